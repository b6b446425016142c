package linkheader

import "testing"

func TestParseMultipleRels(t *testing.T) {
	header := `<http://p1/compensate>; rel="compensate", <http://p1/complete>; rel="complete"`
	links, err := Parse(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byRel := ByRel(links)
	if byRel[RelCompensate] != "http://p1/compensate" {
		t.Fatalf("unexpected compensate uri: %v", byRel)
	}
	if byRel[RelComplete] != "http://p1/complete" {
		t.Fatalf("unexpected complete uri: %v", byRel)
	}
}

func TestParseMalformedMissingRel(t *testing.T) {
	if _, err := Parse(`<http://p1/compensate>`); err == nil {
		t.Fatal("expected error for entry missing rel")
	}
}

func TestParseMalformedMissingBrackets(t *testing.T) {
	if _, err := Parse(`http://p1/compensate; rel="compensate"`); err == nil {
		t.Fatal("expected error for entry missing angle brackets")
	}
}

func TestParseEmpty(t *testing.T) {
	links, err := Parse("")
	if err != nil || links != nil {
		t.Fatalf("expected nil, nil for empty header, got %v, %v", links, err)
	}
}
