package channel

import (
	"errors"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Add("LS336",
		Channel{Name: "A.setpoint[K]", Query: "SETP? 1"},
		Channel{Name: "A.temperature[K]", Query: "TEMP? 1"},
	); err != nil {
		t.Fatalf("Add(LS336) error = %v", err)
	}
	if err := r.Add("LS330BB",
		Channel{Name: "setpoint[K]", Query: "SETP?"},
		Channel{Name: "heater[%]", Query: "HEAT?"},
	); err != nil {
		t.Fatalf("Add(LS330BB) error = %v", err)
	}
	return r
}

func TestRegistry_ChannelsOrder(t *testing.T) {
	r := testRegistry(t)

	want := []Key{
		{"LS336", "A.setpoint[K]"},
		{"LS336", "A.temperature[K]"},
		{"LS330BB", "setpoint[K]"},
		{"LS330BB", "heater[%]"},
	}

	got := r.Channels()
	if len(got) != len(want) {
		t.Fatalf("len(Channels()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i] {
			t.Errorf("Channels()[%d] = %v, want %v", i, got[i].Key(), want[i])
		}
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}

func TestRegistry_FilterKeepsRegistrationOrder(t *testing.T) {
	r := testRegistry(t)

	got := r.Channels("LS330BB", "LS336")
	if len(got) != 4 {
		t.Fatalf("len(Channels(filter)) = %d, want 4", len(got))
	}
	if got[0].Source != "LS336" {
		t.Errorf("first channel source = %q, want LS336", got[0].Source)
	}

	only := r.Channels("LS330BB")
	if len(only) != 2 || only[0].Name != "setpoint[K]" || only[1].Name != "heater[%]" {
		t.Errorf("Channels(LS330BB) = %+v", only)
	}

	if none := r.Channels("LS340"); len(none) != 0 {
		t.Errorf("Channels(unknown) = %+v, want empty", none)
	}
}

func TestRegistry_Duplicates(t *testing.T) {
	r := testRegistry(t)

	if err := r.Add("LS336"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add(existing source) error = %v, want ErrDuplicate", err)
	}

	err := r.Add("LS330SP",
		Channel{Name: "setpoint[K]", Query: "SETP?"},
		Channel{Name: "setpoint[K]", Query: "SETP?"},
	)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add(duplicate channel) error = %v, want ErrDuplicate", err)
	}
	if got := len(r.Sources()); got != 2 {
		t.Errorf("failed Add registered a source, Sources() = %d", got)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := testRegistry(t)

	list := r.Source("LS336")
	list[0].Name = "mutated"

	if r.Source("LS336")[0].Name != "A.setpoint[K]" {
		t.Error("Source() exposed the registry's backing slice")
	}

	sources := r.Sources()
	sources[0] = "mutated"
	if r.Sources()[0] != "LS336" {
		t.Error("Sources() exposed the registry's backing slice")
	}
}

func TestChannel_Unit(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"temperature[K]", "K"},
		{"heater[%]", "%"},
		{"A.setpoint[K]", "K"},
		{"status", ""},
		{"broken[K", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Channel{Name: tt.name}).Unit(); got != tt.want {
				t.Errorf("Unit() = %q, want %q", got, tt.want)
			}
		})
	}
}
