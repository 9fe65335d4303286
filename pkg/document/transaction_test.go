package document

import (
	"errors"
	"math"
	"testing"
)

func TestTransactionApply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ops     []Operation
		want    string
		wantErr error
	}{
		{
			name:    "empty transaction keeps content",
			content: "<p>hello</p>",
			want:    "<p>hello</p>",
		},
		{
			name:    "insert at start",
			content: "<p>world</p>",
			ops:     []Operation{Retain(3), Insert("hello ")},
			want:    "<p>hello world</p>",
		},
		{
			name:    "delete in middle",
			content: "<p>hello cruel world</p>",
			ops:     []Operation{Retain(9), Delete(6)},
			want:    "<p>hello world</p>",
		},
		{
			name:    "replace",
			content: "<p>cat</p>",
			ops:     []Operation{Retain(3), Delete(3), Insert("dog")},
			want:    "<p>dog</p>",
		},
		{
			name:    "lengths count code points",
			content: "héllo",
			ops:     []Operation{Retain(1), Delete(1), Insert("e")},
			want:    "hello",
		},
		{
			name:    "retain past end",
			content: "abc",
			ops:     []Operation{Retain(4)},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "delete past end",
			content: "abc",
			ops:     []Operation{Retain(2), Delete(2)},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "retain huge length after retain",
			content: "hello",
			ops:     []Operation{Retain(1), Retain(math.MaxInt)},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "delete huge length after retain",
			content: "hello",
			ops:     []Operation{Retain(1), Delete(math.MaxInt)},
			wantErr: ErrOutOfRange,
		},
		{
			name:    "unknown op",
			content: "abc",
			ops:     []Operation{{Type: "annotate"}},
			wantErr: ErrUnknownOp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transaction{Operations: tt.ops}.Apply(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeTransaction(t *testing.T) {
	tx, err := DecodeTransaction([]byte(`{"operations":[{"type":"retain","length":2},{"type":"insert","text":"x"}]}`))
	if err != nil {
		t.Fatalf("DecodeTransaction() error: %v", err)
	}
	if len(tx.Operations) != 2 {
		t.Fatalf("len(Operations) = %d, want 2", len(tx.Operations))
	}
	if tx.Operations[1] != Insert("x") {
		t.Errorf("Operations[1] = %+v, want insert x", tx.Operations[1])
	}
}

func TestDecodeTransaction_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"negative length", `{"operations":[{"type":"delete","length":-1}]}`, ErrInvalidLength},
		{"unknown type", `{"operations":[{"type":"move"}]}`, ErrUnknownOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTransaction([]byte(tt.data)); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeTransaction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Lengths are only bounded by the content they are applied to.
	tx, err := DecodeTransaction([]byte(`{"operations":[{"type":"retain","length":1},{"type":"delete","length":9223372036854775807}]}`))
	if err != nil {
		t.Fatalf("DecodeTransaction(huge delete) error: %v", err)
	}
	d := New("Foo", "hello")
	if err := d.ApplyTransaction("mallory", tx); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ApplyTransaction(huge delete) error = %v, want ErrOutOfRange", err)
	}
	if html, rev := d.Snapshot(); html != "hello" || rev != 0 {
		t.Errorf("Snapshot() = (%q, %d), want (hello, 0)", html, rev)
	}

	if _, err := DecodeTransaction([]byte(`not json`)); err == nil {
		t.Error("DecodeTransaction(not json) error = nil, want non-nil")
	}
}
