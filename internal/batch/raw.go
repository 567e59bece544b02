// Package batch turns bulk-import claim tuples into per-issuer claim batches.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
)

// SubjectRef is either an index into the signer list or a literal address.
type SubjectRef struct {
	index   int
	address string
	isIndex bool
}

// SubjectIndex references the signer at i.
func SubjectIndex(i int) SubjectRef {
	return SubjectRef{index: i, isIndex: true}
}

// SubjectAddress references a literal address string.
func SubjectAddress(s string) SubjectRef {
	return SubjectRef{address: s}
}

// Index returns the signer index and whether the reference is one.
func (r SubjectRef) Index() (int, bool) {
	return r.index, r.isIndex
}

func (r SubjectRef) String() string {
	if r.isIndex {
		return "#" + strconv.Itoa(r.index)
	}
	return r.address
}

// RawClaim is one bulk-import tuple [issuerIndex, subject, typeId, value].
type RawClaim struct {
	IssuerIndex int
	Subject     SubjectRef
	TypeID      string
	Value       string
}

// UnmarshalJSON decodes the 4-element tuple form. Numbers are read exactly,
// so large integers are not rounded, and integral numbers written as 1.0 or
// 1e2 are normalised to plain decimal.
func (r *RawClaim) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("claim tuple: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("claim tuple: want 4 elements, got %d", len(parts))
	}

	issuer, err := decodeIndex(parts[0])
	if err != nil {
		return fmt.Errorf("claim tuple issuer: %w", err)
	}

	var subject SubjectRef
	if idx, err := decodeIndex(parts[1]); err == nil {
		subject = SubjectIndex(idx)
	} else {
		var s string
		if err := json.Unmarshal(parts[1], &s); err != nil {
			return fmt.Errorf("claim tuple subject: want integer or string")
		}
		subject = SubjectAddress(s)
	}

	var typeID string
	if err := json.Unmarshal(parts[2], &typeID); err != nil {
		return fmt.Errorf("claim tuple typeId: want string")
	}

	value, err := decodeValue(parts[3])
	if err != nil {
		return fmt.Errorf("claim tuple value: %w", err)
	}

	*r = RawClaim{IssuerIndex: issuer, Subject: subject, TypeID: typeID, Value: value}
	return nil
}

// MarshalJSON encodes the tuple form.
func (r RawClaim) MarshalJSON() ([]byte, error) {
	var subject interface{} = r.Subject.address
	if r.Subject.isIndex {
		subject = r.Subject.index
	}
	return json.Marshal([]interface{}{r.IssuerIndex, subject, r.TypeID, r.Value})
}

// maxExponent bounds the exponent of numeric literals.
const maxExponent = 1000

func decodeNumber(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// integral returns n as an integer when its value is one, whatever its
// notation.
func integral(n json.Number) (*big.Int, bool) {
	s := n.String()
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		exp, err := strconv.Atoi(s[i+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return nil, false
		}
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || !r.IsInt() {
		return nil, false
	}
	return r.Num(), true
}

func decodeIndex(raw json.RawMessage) (int, error) {
	v, err := decodeNumber(raw)
	if err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("want integer, got %s", raw)
	}
	i, ok := integral(n)
	if !ok || !i.IsInt64() {
		return 0, fmt.Errorf("want integer, got %s", n)
	}
	idx, err := strconv.Atoi(i.String())
	if err != nil {
		return 0, fmt.Errorf("want integer, got %s", n)
	}
	return idx, nil
}

func decodeValue(raw json.RawMessage) (string, error) {
	v, err := decodeNumber(raw)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case json.Number:
		if i, ok := integral(val); ok {
			return i.String(), nil
		}
		return val.String(), nil
	case string:
		return val, nil
	default:
		return "", fmt.Errorf("want number or string, got %s", raw)
	}
}

// File is the bulk-import document.
type File struct {
	Claims []RawClaim `json:"claims"`
}

// Decode reads a bulk-import document.
func Decode(r io.Reader) ([]RawClaim, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode claims file: %w", err)
	}
	return f.Claims, nil
}

// LoadFile reads a bulk-import document from path.
func LoadFile(path string) ([]RawClaim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open claims file: %w", err)
	}
	defer f.Close()

	claims, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return claims, nil
}
