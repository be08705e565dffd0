package models

import (
	"encoding/json"
	"testing"
)

func TestFlexInt_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "number", input: `42`, want: 42},
		{name: "numeric string", input: `"42"`, want: 42},
		{name: "float with zero fraction", input: `12.0`, want: 12},
		{name: "null", input: `null`, want: 0},
		{name: "empty string", input: `""`, want: 0},
		{name: "fraction", input: `1.5`, wantErr: true},
		{name: "word", input: `"abc"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexInt
			err := json.Unmarshal([]byte(tt.input), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Int64() != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFlexString_UnmarshalJSON(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"x","b":17}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "x" || v.B != "17" {
		t.Errorf("got %q %q", v.A, v.B)
	}
}

func TestCredentialsKind(t *testing.T) {
	both := Credentials{AccessToken: "a", RefreshToken: "r", Cookie: "c"}
	if both.Kind() != CredentialToken {
		t.Errorf("token pair should win over cookie, got %v", both.Kind())
	}
	if both.Bearer() != "a" {
		t.Errorf("Bearer() = %q", both.Bearer())
	}

	legacy := Credentials{Cookie: "c"}
	name, value := legacy.QueryParam()
	if name != "cookie" || value != "c" {
		t.Errorf("QueryParam() = %q=%q", name, value)
	}

	if !(Credentials{}).IsZero() {
		t.Error("empty credentials should be zero")
	}
}

func TestUserDisplayName(t *testing.T) {
	cases := map[string]User{
		"Ada Lovelace":  {Prenom: "Ada", Nom: "Lovelace", Username: "ada"},
		"ada":           {Username: "ada", Email: "ada@example.com"},
		"x@example.com": {Email: "x@example.com"},
	}
	for want, u := range cases {
		if got := u.DisplayName(); got != want {
			t.Errorf("DisplayName() = %q, want %q", got, want)
		}
	}
}
