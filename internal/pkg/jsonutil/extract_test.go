package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"action":"BUY"}`, `{"action":"BUY"}`, true},
		{"fenced", "here you go\n```json\n{\"action\":\"SELL\",\"note\":\"a } b\"}\n```\nthanks", `{"action":"SELL","note":"a } b"}`, true},
		{"prose", `I think {"action":"HOLD","nested":{"x":1}} is right`, `{"action":"HOLD","nested":{"x":1}}`, true},
		{"escaped quote", `{"r":"say \"hi\" }"}`, `{"r":"say \"hi\" }"}`, true},
		{"unterminated", `{"action":"BUY"`, "", false},
		{"empty", "   ", "", false},
		{"no json", "market looks flat", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractArray(t *testing.T) {
	got, ok := ExtractArray("```\n[1,[2,3]]\n```")
	assert.True(t, ok)
	assert.Equal(t, "[1,[2,3]]", got)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Pretty(`{"a":1}`))
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Equal(t, `{"a":1}`, Compact(map[string]int{"a": 1}))
}
