// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package bugtracker

import "testing"

func TestIDFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://dev.azure.com/org/proj/_workitems/edit/12345", "12345", false},
		{"https://dev.azure.com/org/_apis/wit/workItems/987/", "987", false},
		{"https://dev.azure.com/org/proj", "", true},
	}
	for _, tt := range tests {
		got, err := IDFromURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Fatalf("IDFromURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("IDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestAreaPath(t *testing.T) {
	tests := []struct{ product, component, want string }{
		{"", "", ""},
		{"Testing", "", "Testing"},
		{"Testing", "web-platform-tests", `Testing\web-platform-tests`},
	}
	for _, tt := range tests {
		if got := areaPath(tt.product, tt.component); got != tt.want {
			t.Errorf("areaPath(%q, %q) = %q, want %q", tt.product, tt.component, got, tt.want)
		}
	}
}

func TestBugURL(t *testing.T) {
	tr := &Tracker{OrgURL: "https://dev.azure.com/org/", Project: "proj"}
	want := "https://dev.azure.com/org/proj/_workitems/edit/42"
	if got := tr.BugURL("42"); got != want {
		t.Errorf("BugURL() = %q, want %q", got, want)
	}
}
