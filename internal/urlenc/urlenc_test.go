package urlenc

import (
	"net/url"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "unreserved untouched", input: "AZaz09-._~", want: "AZaz09-._~"},
		{name: "space", input: "a b", want: "a%20b"},
		{name: "sub delims", input: "!*'()", want: "%21%2A%27%28%29"},
		{name: "plus", input: "1+1", want: "1%2B1"},
		{name: "colon and at", input: "from:user @x", want: "from%3Auser%20%40x"},
		{name: "utf8", input: "æøå", want: "%C3%A6%C3%B8%C3%A5"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	values := url.Values{
		"query":       {"(lang:da) it's"},
		"max_results": {"500"},
		"ids":         {"1", "2"},
	}

	want := "ids=1&ids=2&max_results=500&query=%28lang%3Ada%29%20it%27s"
	if got := Encode(values); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	if got := Encode(nil); got != "" {
		t.Errorf("Encode(nil) = %q, want empty", got)
	}
}
