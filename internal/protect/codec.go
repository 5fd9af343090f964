package protect

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/roach88/vmsync/internal/ir"
)

// issuedAtSize is the length of the big-endian unix-seconds prefix of an
// encrypted payload.
const issuedAtSize = 8

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the wall clock used for issued-at stamps and
// staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithMaxAge rejects encrypted envelopes issued longer ago than d.
// Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(c *Codec) {
		c.maxAge = d
	}
}

// WithRand overrides the nonce source.
func WithRand(r io.Reader) Option {
	return func(c *Codec) {
		c.rand = r
	}
}

// Codec protects outgoing state and verifies incoming client payloads.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	types  ir.Descriptors
	keys   *KeyRing
	now    func() time.Time
	maxAge time.Duration
	rand   io.Reader
}

// New creates a codec. Protection modes are read from types.
func New(types ir.Descriptors, keys *KeyRing, opts ...Option) *Codec {
	c := &Codec{
		types: types,
		keys:  keys,
		now:   time.Now,
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Protect returns the wire form of state. Signed properties keep their
// value and gain a "$env:" sibling; encrypted properties are replaced by
// their envelope. Properties that are never sent to the client are
// dropped. Children are protected before their parents.
func (c *Codec) Protect(state ir.Node, t ir.TypeRef) (ir.Node, error) {
	return c.protect(ir.Path{}, state, t)
}

func (c *Codec) protect(path ir.Path, n ir.Node, t ir.TypeRef) (ir.Node, error) {
	switch v := n.(type) {
	case nil:
		return ir.Null{}, nil
	case *ir.Array:
		elemType := elemTypeOf(t)
		elems := make([]ir.Node, v.Len())
		for i := range elems {
			e, err := c.protect(path.Index(i), v.At(i), elemType)
			if err != nil {
				return nil, err
			}
			elems[i] = e
		}
		return ir.NewArray(elems...), nil
	case *ir.Object:
		desc, ok := c.descriptor(v, t)
		if !ok {
			if v.TypeID() == "" && t.Kind != ir.TypeObject {
				return v, nil
			}
			return nil, fmt.Errorf("protect %s: unknown type id %q", path, effectiveTypeID(v, t))
		}
		return c.protectObject(path, v, desc)
	default:
		return n, nil
	}
}

func (c *Codec) protectObject(path ir.Path, obj *ir.Object, desc *ir.TypeDescriptor) (ir.Node, error) {
	out := make(map[string]ir.Node, obj.Len())
	for _, name := range obj.Keys() {
		if strings.HasPrefix(name, "$") {
			continue
		}
		v, _ := obj.Get(name)
		pd, declared := desc.Property(name)
		if !declared {
			out[name] = v
			continue
		}
		if !pd.Direction.SendsToClient() {
			continue
		}

		childPath := path.Prop(name)
		child, err := c.protect(childPath, v, pd.Type)
		if err != nil {
			return nil, err
		}

		switch pd.Protect {
		case ir.ProtectNone:
			out[name] = child
		case ir.ProtectSign:
			mac, err := c.sign(c.keys.Current(), childPath, c.projection(v, pd.Type))
			if err != nil {
				return nil, fmt.Errorf("protect %s: %w", childPath, err)
			}
			out[name] = child
			out[EnvelopeKey(name)] = Envelope{Mode: ir.ProtectSign, Blob: mac, Path: childPath}.Node()
		case ir.ProtectEncrypt:
			blob, err := c.encrypt(c.keys.Current(), childPath, child)
			if err != nil {
				return nil, fmt.Errorf("protect %s: %w", childPath, err)
			}
			out[EnvelopeKey(name)] = Envelope{Mode: ir.ProtectEncrypt, Blob: blob, Path: childPath}.Node()
		}
	}
	return ir.NewObject(desc.ID, out), nil
}

// Unprotect verifies and decrypts a client payload and returns the trusted
// plaintext tree. Any failure rejects the whole payload with a
// *VerificationError and no partial tree.
//
// Plain values of properties the server does not accept from the client
// are dropped unless they sit inside a verified envelope.
func (c *Codec) Unprotect(wire ir.Node, t ir.TypeRef) (ir.Node, error) {
	out, err := c.unprotect(ir.Path{}, wire, t, false)
	if err != nil {
		var ve *VerificationError
		if errors.As(err, &ve) {
			slog.Warn("protected data rejected",
				"path", ve.Path.String(),
				"mode", ve.Mode.String(),
				"reason", string(ve.Reason))
		}
		return nil, err
	}
	return out, nil
}

func (c *Codec) unprotect(path ir.Path, n ir.Node, t ir.TypeRef, trusted bool) (ir.Node, error) {
	switch v := n.(type) {
	case nil:
		return ir.Null{}, nil
	case *ir.Array:
		elemType := elemTypeOf(t)
		elems := make([]ir.Node, v.Len())
		for i := range elems {
			e, err := c.unprotect(path.Index(i), v.At(i), elemType, trusted)
			if err != nil {
				return nil, err
			}
			elems[i] = e
		}
		return ir.NewArray(elems...), nil
	case *ir.Object:
		if t.Kind == ir.TypeObject && v.TypeID() != "" && v.TypeID() != t.TypeID {
			return nil, &VerificationError{
				Path:   path,
				Reason: ReasonTypeMismatch,
				Cause:  fmt.Errorf("declared %s, got %s", t.TypeID, v.TypeID()),
			}
		}
		desc, ok := c.descriptor(v, t)
		if !ok {
			if v.TypeID() == "" && t.Kind != ir.TypeObject {
				return v, nil
			}
			return nil, &VerificationError{
				Path:   path,
				Reason: ReasonTypeMismatch,
				Cause:  fmt.Errorf("unknown type id %q", effectiveTypeID(v, t)),
			}
		}
		return c.unprotectObject(path, v, desc, trusted)
	default:
		return n, nil
	}
}

func (c *Codec) unprotectObject(path ir.Path, obj *ir.Object, desc *ir.TypeDescriptor, trusted bool) (ir.Node, error) {
	out := make(map[string]ir.Node, obj.Len())

	for _, pd := range desc.Properties() {
		childPath := path.Prop(pd.Name)
		v, has := obj.Get(pd.Name)

		if !pd.Direction.SendsToClient() || pd.Protect == ir.ProtectNone {
			if !has {
				continue
			}
			accept := pd.Direction.AcceptsFromClient() || (trusted && pd.Direction.SendsToClient())
			if !accept {
				slog.Debug("dropping client value", "path", childPath.String())
				continue
			}
			child, err := c.unprotect(childPath, v, pd.Type, trusted)
			if err != nil {
				return nil, err
			}
			out[pd.Name] = child
			continue
		}

		env, err := c.envelope(obj, pd, childPath)
		if err != nil {
			return nil, err
		}

		switch pd.Protect {
		case ir.ProtectSign:
			if !has {
				return nil, &VerificationError{Path: childPath, Mode: pd.Protect, Reason: ReasonMissingValue}
			}
			child, err := c.unprotect(childPath, v, pd.Type, true)
			if err != nil {
				return nil, err
			}
			if err := c.verify(childPath, env.Blob, c.projection(child, pd.Type)); err != nil {
				return nil, err
			}
			out[pd.Name] = child
		case ir.ProtectEncrypt:
			payload, err := c.decrypt(childPath, env.Blob)
			if err != nil {
				return nil, err
			}
			child, err := c.unprotect(childPath, payload, pd.Type, true)
			if err != nil {
				return nil, err
			}
			out[pd.Name] = child
		}
	}

	for _, name := range obj.Keys() {
		if desc.Has(name) || strings.HasPrefix(name, "$") {
			continue
		}
		v, _ := obj.Get(name)
		out[name] = v
	}
	return ir.NewObject(desc.ID, out), nil
}

// envelope reads and checks the "$env:" sibling of a protected property.
func (c *Codec) envelope(obj *ir.Object, pd ir.PropertyDescriptor, path ir.Path) (Envelope, error) {
	raw, ok := obj.Get(EnvelopeKey(pd.Name))
	if !ok {
		return Envelope{}, &VerificationError{Path: path, Mode: pd.Protect, Reason: ReasonMissingEnvelope}
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		return Envelope{}, &VerificationError{Path: path, Mode: pd.Protect, Reason: ReasonMalformedEnvelope, Cause: err}
	}
	if env.Mode != pd.Protect {
		return Envelope{}, &VerificationError{Path: path, Mode: pd.Protect, Reason: ReasonModeMismatch}
	}
	if !env.Path.Equal(path) {
		return Envelope{}, &VerificationError{Path: path, Mode: pd.Protect, Reason: ReasonPathMismatch}
	}
	return env, nil
}

// projection is the part of a value covered by a signature: every member
// except metadata and declared properties the client never sees.
func (c *Codec) projection(n ir.Node, t ir.TypeRef) ir.Node {
	switch v := n.(type) {
	case nil:
		return ir.Null{}
	case *ir.Array:
		elemType := elemTypeOf(t)
		elems := make([]ir.Node, v.Len())
		for i := range elems {
			elems[i] = c.projection(v.At(i), elemType)
		}
		return ir.NewArray(elems...)
	case *ir.Object:
		desc, ok := c.descriptor(v, t)
		if !ok {
			return v
		}
		out := make(map[string]ir.Node, v.Len())
		for _, name := range v.Keys() {
			if strings.HasPrefix(name, "$") {
				continue
			}
			child, _ := v.Get(name)
			pd, declared := desc.Property(name)
			if !declared {
				out[name] = child
				continue
			}
			if !pd.Direction.SendsToClient() {
				continue
			}
			out[name] = c.projection(child, pd.Type)
		}
		return ir.NewObject(desc.ID, out)
	default:
		return n
	}
}

func (c *Codec) descriptor(obj *ir.Object, t ir.TypeRef) (*ir.TypeDescriptor, bool) {
	id := effectiveTypeID(obj, t)
	if id == "" {
		return nil, false
	}
	return c.types.TypeDescriptor(id)
}

func effectiveTypeID(obj *ir.Object, t ir.TypeRef) string {
	if id := obj.TypeID(); id != "" {
		return id
	}
	if t.Kind == ir.TypeObject {
		return t.TypeID
	}
	return ""
}

func elemTypeOf(t ir.TypeRef) ir.TypeRef {
	if t.Kind != ir.TypeArray {
		return ir.Dynamic()
	}
	return t.ElemType()
}

func (c *Codec) sign(k *Key, path ir.Path, value ir.Node) ([]byte, error) {
	canonical, err := ir.MarshalCanonical(value)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(k.signKey)
	if err != nil {
		return nil, err
	}
	h.Write(ir.DomainInput(ir.DomainSign, []byte(path.String()), canonical))
	return h.Sum(nil), nil
}

func (c *Codec) verify(path ir.Path, mac []byte, value ir.Node) error {
	for _, k := range c.keys.all() {
		want, err := c.sign(k, path, value)
		if err != nil {
			return &VerificationError{Path: path, Mode: ir.ProtectSign, Reason: ReasonSignatureMismatch, Cause: err}
		}
		if subtle.ConstantTimeCompare(want, mac) == 1 {
			return nil
		}
	}
	return &VerificationError{Path: path, Mode: ir.ProtectSign, Reason: ReasonSignatureMismatch}
}

func (c *Codec) encrypt(k *Key, path ir.Path, child ir.Node) ([]byte, error) {
	body, err := ir.EncodeJSON(child)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(k.encKey)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, issuedAtSize, issuedAtSize+len(body))
	binary.BigEndian.PutUint64(payload, uint64(c.now().Unix()))
	payload = append(payload, body...)

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(payload)+aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, payload, ir.DomainInput(ir.DomainEncrypt, []byte(path.String()))), nil
}

func (c *Codec) decrypt(path ir.Path, blob []byte) (ir.Node, error) {
	if len(blob) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, &VerificationError{Path: path, Mode: ir.ProtectEncrypt, Reason: ReasonDecryptFailed}
	}
	nonce, sealed := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aad := ir.DomainInput(ir.DomainEncrypt, []byte(path.String()))

	var payload []byte
	for _, k := range c.keys.all() {
		aead, err := chacha20poly1305.NewX(k.encKey)
		if err != nil {
			continue
		}
		if p, err := aead.Open(nil, nonce, sealed, aad); err == nil {
			payload = p
			break
		}
	}
	if payload == nil || len(payload) < issuedAtSize {
		return nil, &VerificationError{Path: path, Mode: ir.ProtectEncrypt, Reason: ReasonDecryptFailed}
	}

	issued := time.Unix(int64(binary.BigEndian.Uint64(payload[:issuedAtSize])), 0)
	if c.maxAge > 0 && c.now().Sub(issued) > c.maxAge {
		return nil, &VerificationError{Path: path, Mode: ir.ProtectEncrypt, Reason: ReasonStale}
	}

	n, err := ir.DecodeJSON(payload[issuedAtSize:])
	if err != nil {
		return nil, &VerificationError{Path: path, Mode: ir.ProtectEncrypt, Reason: ReasonMalformedPayload, Cause: err}
	}
	return n, nil
}
