package template

import (
	"reflect"
	"testing"
)

func TestExtractVariables(t *testing.T) {
	cases := []struct {
		name     string
		template string
		want     []string
	}{
		{"empty", "", nil},
		{"no placeholders", "hello there", nil},
		{"single", "Hi {name}", []string{"name"}},
		{"duplicates collapse", "Hi {name}, really {name}!", []string{"name"}},
		{"first-seen order", "{b} {a} {b} {c} {a}", []string{"b", "a", "c"}},
		{"underscore and digits", "{_x1} {x_2}", []string{"_x1", "x_2"}},
		{"invalid names skipped", "{123} {var-name} {ok}", []string{"ok"}},
		{"nested braces ignored", "{{name}}", []string{"name"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractVariables(tc.template)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ExtractVariables(%q) = %v, want %v", tc.template, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if errs := Validate("   "); len(errs) != 1 {
		t.Fatalf("expected exactly one error for blank template, got %v", errs)
	}
	if errs := Validate("Hi {name}"); len(errs) != 0 {
		t.Fatalf("valid template flagged: %v", errs)
	}
	if errs := Validate("Hi {var name}"); len(errs) == 0 {
		t.Fatal("expected invalid variable name error")
	}
	if errs := Validate("Hi {name"); len(errs) == 0 {
		t.Fatal("expected mismatched braces error")
	}
}

func TestRenderSafe(t *testing.T) {
	r := RenderSafe("Hi {name}, welcome to {company}!", map[string]string{"name": "Ada"})
	if r.Rendered != "Hi Ada, welcome to {company}!" {
		t.Fatalf("rendered = %q", r.Rendered)
	}
	if !reflect.DeepEqual(r.Missing, []string{"company"}) {
		t.Fatalf("missing = %v", r.Missing)
	}

	r = RenderSafe("no vars here", nil)
	if r.Rendered != "no vars here" || len(r.Missing) != 0 {
		t.Fatalf("unexpected result for var-free template: %+v", r)
	}
}

func TestRenderForUsers(t *testing.T) {
	rendered, missing := RenderForUsers("Hi {name} from {team}", map[string]map[string]string{
		"U1": {"name": "Ada", "team": "Core"},
		"U2": {"name": "Lin"},
	})
	if rendered["U1"] != "Hi Ada from Core" {
		t.Fatalf("U1 = %q", rendered["U1"])
	}
	if rendered["U2"] != "Hi Lin from {team}" {
		t.Fatalf("U2 = %q", rendered["U2"])
	}
	if !reflect.DeepEqual(missing, []string{"team"}) {
		t.Fatalf("missing = %v", missing)
	}
}

func TestPreviewSample(t *testing.T) {
	if got := PreviewSample("Hi {name}, {greeting}!"); got != "Hi [NAME], [GREETING]!" {
		t.Fatalf("PreviewSample = %q", got)
	}
}
