package handler

import "testing"

func TestMatcherLiteral(t *testing.T) {
	m := compileMatcher("/widgets")
	if _, ok := m.Match("/widgets"); !ok {
		t.Fatalf("expected literal match")
	}
	if _, ok := m.Match("/widgets/"); ok {
		t.Fatalf("trailing slash must not match per the exact-match decision")
	}
	if _, ok := m.Match("/widget"); ok {
		t.Fatalf("prefix must not match")
	}
}

func TestMatcherCapture(t *testing.T) {
	m := compileMatcher("/widgets/{id}")
	vars, ok := m.Match("/widgets/42")
	if !ok {
		t.Fatalf("expected match")
	}
	if vars["id"] != "42" {
		t.Fatalf("vars = %+v", vars)
	}
}

func TestMatcherCaptureDecodesPercentEscapes(t *testing.T) {
	m := compileMatcher("/widgets/{name}")
	vars, ok := m.Match("/widgets/hello%20world")
	if !ok {
		t.Fatalf("expected match")
	}
	if vars["name"] != "hello world" {
		t.Fatalf("vars = %+v", vars)
	}
}

func TestMatcherCaptureRetainsMatrixParams(t *testing.T) {
	m := compileMatcher("/widgets/{id}")
	vars, ok := m.Match("/widgets/42;color=red")
	if !ok {
		t.Fatalf("expected match")
	}
	if vars["id"] != "42;color=red" {
		t.Fatalf("matrix params should be retained on the segment, got %q", vars["id"])
	}
}

func TestMatcherRegexConstraint(t *testing.T) {
	m := compileMatcher(`/widgets/{id: [0-9]+}`)
	if _, ok := m.Match("/widgets/abc"); ok {
		t.Fatalf("non-numeric id should not match a numeric constraint")
	}
	vars, ok := m.Match("/widgets/123")
	if !ok || vars["id"] != "123" {
		t.Fatalf("vars = %+v ok=%v", vars, ok)
	}
}

func TestMatcherMultipleCaptures(t *testing.T) {
	m := compileMatcher("/orgs/{org}/repos/{repo}")
	vars, ok := m.Match("/orgs/acme/repos/widget")
	if !ok {
		t.Fatalf("expected match")
	}
	if vars["org"] != "acme" || vars["repo"] != "widget" {
		t.Fatalf("vars = %+v", vars)
	}
}
