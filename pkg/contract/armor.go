package contract

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	armorBegin = "-----BEGIN OTX "
	armorEnd   = "-----END OTX "
	armorTail  = "-----"
	lineWidth  = 64
)

//go:embed schema.json
var schemaJSON string

var documentSchema = jsonschema.MustCompileString("otx-instrument.schema.json", schemaJSON)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil)
)

// Encode renders the document as an armored block suitable for pasting or messaging.
func Encode(doc Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal contract: %w", err)
	}
	body := base64.StdEncoding.EncodeToString(zenc.EncodeAll(raw, nil))

	var b strings.Builder
	b.WriteString(armorBegin + string(doc.Type) + armorTail + "\n")
	for len(body) > lineWidth {
		b.WriteString(body[:lineWidth])
		b.WriteByte('\n')
		body = body[lineWidth:]
	}
	b.WriteString(body + "\n")
	b.WriteString(armorEnd + string(doc.Type) + armorTail + "\n")
	return b.String(), nil
}

// Decode accepts either an armored block or raw JSON.
func Decode(text string) (Document, error) {
	raw, armored, err := unarmor(text)
	if err != nil {
		return Document{}, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := documentSchema.Validate(generic); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if armored != "" && Type(armored) != doc.Type {
		return Document{}, fmt.Errorf("%w: armor says %q, body says %q", ErrMalformed, armored, doc.Type)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// InstrumentType reads the type without requiring a full decode when armored.
func InstrumentType(text string) (Type, error) {
	if t, ok := armorType(strings.TrimSpace(text)); ok {
		return Type(t), nil
	}
	doc, err := Decode(text)
	if err != nil {
		return "", err
	}
	return doc.Type, nil
}

func armorType(text string) (string, bool) {
	if !strings.HasPrefix(text, armorBegin) {
		return "", false
	}
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, armorTail) || len(line) <= len(armorBegin)+len(armorTail) {
		return "", false
	}
	return line[len(armorBegin) : len(line)-len(armorTail)], true
}

func unarmor(text string) ([]byte, string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		return []byte(text), "", nil
	}
	typ, ok := armorType(text)
	if !ok {
		return nil, "", fmt.Errorf("%w: missing armor header", ErrMalformed)
	}

	lines := strings.Split(text, "\n")
	var body strings.Builder
	closed := false
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, armorEnd) {
			if l != armorEnd+typ+armorTail {
				return nil, "", fmt.Errorf("%w: mismatched armor footer", ErrMalformed)
			}
			closed = true
			break
		}
		body.WriteString(l)
	}
	if !closed {
		return nil, "", fmt.Errorf("%w: missing armor footer", ErrMalformed)
	}

	compressed, err := base64.StdEncoding.DecodeString(body.String())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, err := zdec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, typ, nil
}
