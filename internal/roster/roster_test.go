package roster

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseMentions(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"plain", "@alice @bob hello", []string{"alice", "bob"}},
		{"dedup first-seen", "@bob @alice @bob", []string{"bob", "alice"}},
		{"dots and dashes", "@john.doe @a-b", []string{"john.doe", "a-b"}},
		{"cjk names", "@田中 と @alice", []string{"田中", "alice"}},
		{"no mentions", "nothing here", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseMentions(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseMentions(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestParseImportCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"user_id,name,company",
		"U1,Ada,ACME",
		",,",
		",NoID,Globex",
		"U2,Lin,Initech",
	}, "\n")

	res, err := ParseImport("vars.csv", []byte(csvData))
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(res.Rows))
	}
	if res.Rows[0].Identifier != "U1" || res.Rows[0].IdentifierType != "user_id" {
		t.Fatalf("row 0 identifier = %+v", res.Rows[0])
	}
	// Row without user_id falls through to the name column.
	if res.Rows[1].Identifier != "NoID" || res.Rows[1].IdentifierType != "name" {
		t.Fatalf("row 1 identifier = %+v", res.Rows[1])
	}
	if res.Rows[0].Variables["company"] != "ACME" {
		t.Fatalf("row 0 variables = %v", res.Rows[0].Variables)
	}
	// name is an identifier column, never a variable.
	if _, ok := res.Rows[0].Variables["name"]; ok {
		t.Fatal("identifier column leaked into variables")
	}
}

func TestParseImportCSVNoIdentifierColumn(t *testing.T) {
	_, err := ParseImport("vars.csv", []byte("company,city\nACME,Berlin\n"))
	if err == nil {
		t.Fatal("expected error for missing identifier column")
	}
}

func TestParseImportJSON(t *testing.T) {
	jsonData := `[
		{"user_id": "U1", "company": "ACME", "seats": 3},
		{"company": "Globex"},
		{"display_name": "Lin", "company": "Initech"}
	]`

	res, err := ParseImport("vars.json", []byte(jsonData))
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "item 1") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Rows[0].Variables["seats"] != "3" {
		t.Fatalf("numeric variable = %q, want \"3\"", res.Rows[0].Variables["seats"])
	}
	if res.Rows[1].IdentifierType != "display_name" {
		t.Fatalf("identifier type = %q", res.Rows[1].IdentifierType)
	}

	ud := res.UserData()
	if ud["U1"]["company"] != "ACME" {
		t.Fatalf("UserData = %v", ud)
	}
}

func TestParseImportSniffing(t *testing.T) {
	// JSON content without a .json extension is detected by content.
	res, err := ParseImport("upload.bin", []byte(`[{"user_id":"U9","x":"y"}]`))
	if err != nil {
		t.Fatalf("json sniff: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Identifier != "U9" {
		t.Fatalf("rows = %+v", res.Rows)
	}

	if _, err := ParseImport("empty.csv", []byte("   \n")); err == nil {
		t.Fatal("expected error for empty file")
	}
}
