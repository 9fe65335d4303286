package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for transaction decoding and application.
var (
	// ErrOutOfRange is returned when an operation runs past the end of the content.
	ErrOutOfRange = errors.New("document: operation out of range")

	// ErrUnknownOp is returned for an operation type other than retain, insert or delete.
	ErrUnknownOp = errors.New("document: unknown operation")

	// ErrInvalidLength is returned for a retain or delete with a negative length.
	ErrInvalidLength = errors.New("document: invalid operation length")
)

// OpType names a transaction operation.
type OpType string

const (
	OpRetain OpType = "retain"
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// Operation is a single step of a transaction.
type Operation struct {
	Type   OpType `json:"type"`
	Length int    `json:"length,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Transaction is an ordered list of operations applied as one unit.
type Transaction struct {
	Operations []Operation `json:"operations"`
}

// Retain returns a retain operation.
func Retain(n int) Operation { return Operation{Type: OpRetain, Length: n} }

// Insert returns an insert operation.
func Insert(text string) Operation { return Operation{Type: OpInsert, Text: text} }

// Delete returns a delete operation.
func Delete(n int) Operation { return Operation{Type: OpDelete, Length: n} }

// DecodeTransaction parses a JSON transaction and validates its operations.
func DecodeTransaction(data []byte) (Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return Transaction{}, fmt.Errorf("document: decode transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Validate checks operation types and lengths without looking at content.
func (tx Transaction) Validate() error {
	for i, op := range tx.Operations {
		switch op.Type {
		case OpRetain, OpDelete:
			if op.Length < 0 {
				return fmt.Errorf("%w: op %d has length %d", ErrInvalidLength, i, op.Length)
			}
		case OpInsert:
		default:
			return fmt.Errorf("%w: op %d has type %q", ErrUnknownOp, i, op.Type)
		}
	}
	return nil
}

// Apply returns content with the transaction applied.
// content is not modified; on error the returned string is empty.
func (tx Transaction) Apply(content string) (string, error) {
	src := []rune(content)
	var out strings.Builder
	out.Grow(len(content))

	pos := 0
	for i, op := range tx.Operations {
		switch op.Type {
		case OpRetain:
			if op.Length < 0 || op.Length > len(src)-pos {
				return "", fmt.Errorf("%w: retain %d at %d of %d (op %d)", ErrOutOfRange, op.Length, pos, len(src), i)
			}
			out.WriteString(string(src[pos : pos+op.Length]))
			pos += op.Length
		case OpDelete:
			if op.Length < 0 || op.Length > len(src)-pos {
				return "", fmt.Errorf("%w: delete %d at %d of %d (op %d)", ErrOutOfRange, op.Length, pos, len(src), i)
			}
			pos += op.Length
		case OpInsert:
			out.WriteString(op.Text)
		default:
			return "", fmt.Errorf("%w: op %d has type %q", ErrUnknownOp, i, op.Type)
		}
	}
	out.WriteString(string(src[pos:]))
	return out.String(), nil
}
