package bus

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    Address
		wantErr bool
	}{
		{input: "3a-00000012ab34", want: Address{Family: FamilyDS2413, Serial: 0x12ab34}},
		{input: "29-0000001d8c7e", want: Address{Family: FamilyDS2408, Serial: 0x1d8c7e}},
		{input: " 28-ffffffffffff ", want: Address{Family: FamilyDS18B20, Serial: 0xffffffffffff}},
		{input: "3a00000012ab34", wantErr: true},
		{input: "3a-12ab34", wantErr: true},
		{input: "zz-00000012ab34", wantErr: true},
		{input: "3a-00000012abzz", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{Family: FamilyDS2438, Serial: 0xabc}
	if got := addr.String(); got != "26-000000000abc" {
		t.Errorf("String() = %q, want %q", got, "26-000000000abc")
	}

	back, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress() error = %v", err)
	}
	if back != addr {
		t.Errorf("round trip = %+v, want %+v", back, addr)
	}
}
