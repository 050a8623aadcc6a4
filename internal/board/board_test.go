package board

import "testing"

func TestEUI16(t *testing.T) {
	id := StaticIdentity{0x00, 0x12, 0x4b, 0x00, 0x06, 0x0d, 0xb5, 0x9a}
	if got := EUI16(id); got != 0xb59a {
		t.Errorf("Expected 0xb59a, got %#04x", got)
	}
	if got := EUI16(IdentityFor(0x1234)); got != 0x1234 {
		t.Errorf("Expected 0x1234, got %#04x", got)
	}
}

func TestSeededRandomDeterministic(t *testing.T) {
	a := NewSeededRandom(9)
	b := NewSeededRandom(9)
	for i := 0; i < 32; i++ {
		if a.Get() != b.Get() {
			t.Fatal("Expected identical sequences for equal seeds")
		}
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Toggle(LedSystem)
	r.Toggle(LedSystem)
	r.On(LedUser)
	r.On(LedUser)

	if r.State(LedSystem) {
		t.Error("Expected system LED off after two toggles")
	}
	if r.Transitions(LedSystem) != 2 {
		t.Errorf("Expected 2 transitions, got %d", r.Transitions(LedSystem))
	}
	if r.Transitions(LedUser) != 1 {
		t.Errorf("Expected 1 transition, got %d", r.Transitions(LedUser))
	}
}
