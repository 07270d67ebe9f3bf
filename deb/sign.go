package deb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/etnz/debpack/arfile"
)

// ErrUnsigned is returned when verifying a package without a signature.
var ErrUnsigned = errors.New("deb: package is not signed")

// LoadSigner reads an armored private key and returns the first entity able
// to sign.
func LoadSigner(armoredKey string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no private key found in keyring")
}

// PublicKey exports the public part of signer, armored or binary.
func PublicKey(signer *openpgp.Entity, armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if !armored {
		if err := signer.Serialize(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := signer.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// signMembers returns an armored detached signature over the concatenation
// of debian-binary, the control archive and the data archive.
func signMembers(signer *openpgp.Entity, controlTarGz []byte, payload io.Reader) ([]byte, error) {
	msg := io.MultiReader(strings.NewReader(FormatVersion), bytes.NewReader(controlTarGz), payload)
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, msg, nil); err != nil {
		return nil, fmt.Errorf("signing package: %w", err)
	}
	return sig.Bytes(), nil
}

// signedContent reads the bodies of every member of an ar archive except the
// signature, back to back.
type signedContent struct {
	ar     *arfile.Reader
	inBody bool
}

func (s *signedContent) Read(p []byte) (int, error) {
	for {
		if !s.inBody {
			hdr, err := s.ar.Next()
			if err != nil {
				return 0, err
			}
			if hdr.Name == string(PkgGPGOrigin) {
				continue
			}
			s.inBody = true
		}
		n, err := s.ar.Read(p)
		if err == io.EOF {
			s.inBody = false
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// VerifySignature checks the _gpgorigin signature of the package in r
// against keyring and returns the signing entity.
func VerifySignature(r io.ReadSeeker, keyring openpgp.KeyRing) (*openpgp.Entity, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	d, err := Read(r)
	if err != nil {
		return nil, err
	}
	if len(d.Signature) == 0 {
		return nil, ErrUnsigned
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ar, err := arfile.NewReader(r)
	if err != nil {
		return nil, err
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, &signedContent{ar: ar}, bytes.NewReader(d.Signature), nil)
	if err != nil {
		return nil, fmt.Errorf("verifying signature: %w", err)
	}
	return signer, nil
}
