package schema

import (
	"testing"
)

func TestNormalize_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Field
		wantOK bool
	}{
		{in: "Equipment Name", want: EquipmentName, wantOK: true},
		{in: "  equipment_name ", want: EquipmentName, wantOK: true},
		{in: "NAME", want: EquipmentName, wantOK: true},
		{in: "EquipmentName", want: EquipmentName, wantOK: true},
		{in: "Type", want: EquipmentType, wantOK: true},
		{in: "equipment type", want: EquipmentType, wantOK: true},
		{in: "Flow Rate", want: Flowrate, wantOK: true},
		{in: "flow_rate", want: Flowrate, wantOK: true},
		{in: "FLOW", want: Flowrate, wantOK: true},
		{in: "Press", want: Pressure, wantOK: true},
		{in: "\tTemp\t", want: Temperature, wantOK: true},
		{in: "temperature", want: Temperature, wantOK: true},

		// no partial or fuzzy matching
		{in: "flow-rate", wantOK: false},
		{in: "temperature (c)", wantOK: false},
		{in: "equipment  name", wantOK: false},
		{in: "", wantOK: false},
		{in: "foo", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok=%v want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Normalize(%q)=%q want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAliases_CoverEveryField(t *testing.T) {
	t.Parallel()

	for _, f := range Fields {
		as := Aliases(f)
		if len(as) == 0 {
			t.Fatalf("no aliases for %s", f)
		}
		for _, a := range as {
			if got, ok := Normalize(a); !ok || got != f {
				t.Fatalf("alias %q resolves to %q,%v want %q", a, got, ok, f)
			}
		}
	}
	if len(aliasOrder) != len(aliases) {
		t.Fatalf("aliasOrder has %d entries, alias table has %d", len(aliasOrder), len(aliases))
	}
}

func TestRowValue_PanicsOnTextField(t *testing.T) {
	t.Parallel()

	r := Row{Flowrate: 1, Pressure: 2, Temperature: 3}
	if r.Value(Pressure) != 2 {
		t.Fatalf("Value(pressure)=%v", r.Value(Pressure))
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for text field")
		}
	}()
	_ = r.Value(EquipmentName)
}
