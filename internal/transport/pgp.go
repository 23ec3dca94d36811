package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

// Encrypting encrypts each file to the partner's public key before
// handing it to Next. The delivered name gains a ".pgp" suffix.
type Encrypting struct {
	Next       Mailbox
	Recipients openpgp.EntityList
}

// LoadPublicKey reads an armored public key ring from path.
func LoadPublicKey(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening partner key: %w", err)
	}
	defer f.Close()
	return ReadPublicKey(f)
}

// ReadPublicKey parses an armored public key ring.
func ReadPublicKey(r io.Reader) (openpgp.EntityList, error) {
	el, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("reading partner key: %w", err)
	}
	if len(el) == 0 {
		return nil, fmt.Errorf("partner key ring is empty")
	}
	return el, nil
}

func (m Encrypting) Send(ctx context.Context, f File) (Receipt, error) {
	data, err := Encrypt(f.Name, f.Data, m.Recipients)
	if err != nil {
		return Receipt{}, err
	}
	return m.Next.Send(ctx, File{Name: f.Name + ".pgp", Data: data, ContentType: "application/pgp-encrypted"})
}

// Encrypt returns the ASCII-armored ciphertext of data.
func Encrypt(name string, data []byte, to openpgp.EntityList) ([]byte, error) {
	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", name, err)
	}
	pw, err := openpgp.Encrypt(aw, to, nil, &openpgp.FileHints{FileName: name, IsBinary: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", name, err)
	}
	if _, err := pw.Write(data); err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", name, err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", name, err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("encrypting %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
