// Package peermanager turns a connectionless server socket into a verified
// channel without a real session: peers handshake for a per-path shared
// secret, and later messages are accepted only when they carry that secret.
//
// The shared secret is an authentication token, not a session key; payloads
// are not encrypted.
package peermanager

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log"
	"sync"

	"github.com/ugorji/go/codec"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/server"
)

// SharedSecretSize is the length of a freshly issued shared secret.
const SharedSecretSize = 32

// Payload type discriminators on the wire.
const (
	PayloadTypeHandshake       = "handshake"
	PayloadTypeSharedSecret    = "shared_secret"
	PayloadTypeMessage         = "message"
	PayloadTypeMessageResponse = "message_response"
)

// InvalidSecretResponse is returned for a message whose secret does not
// verify.
const InvalidSecretResponse = "invalid secret"

var jsonHandle codec.JsonHandle

// Payload is the JSON wire payload carried as user data. Byte fields travel
// as JSON arrays of integers.
type Payload struct {
	Type            string `codec:"type" json:"type"`
	Secret          []int  `codec:"secret,omitempty" json:"secret,omitempty"`
	Message         string `codec:"message,omitempty" json:"message,omitempty"`
	MessageResponse string `codec:"message_response,omitempty" json:"message_response,omitempty"`
}

// Encode serializes the payload to JSON bytes.
func (p *Payload) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, &jsonHandle).Encode(p); err != nil {
		return nil, fmt.Errorf("peer_manager: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload parses a JSON wire payload.
func DecodePayload(data []byte) (*Payload, error) {
	p := &Payload{}
	if err := codec.NewDecoderBytes(data, &jsonHandle).Decode(p); err != nil {
		return nil, fmt.Errorf("peer_manager: decode payload: %w", err)
	}
	return p, nil
}

// SecretToInts converts secret bytes to the wire representation.
func SecretToInts(secret []byte) []int {
	ints := make([]int, len(secret))
	for i, b := range secret {
		ints[i] = int(b)
	}
	return ints
}

// SecretFromInts converts the wire representation back to bytes.
func SecretFromInts(ints []int) []byte {
	secret := make([]byte, len(ints))
	for i, v := range ints {
		secret[i] = byte(v)
	}
	return secret
}

// Verifier decides whether a peer may obtain a shared secret. It runs
// before secret issuance; without it any caller could obtain a valid
// secret simply by sending a handshake. peerPID is the handshake
// datagram's SCM_CREDENTIALS pid, 0 on platforms that pass no
// credentials.
type Verifier func(peerPID int, peerPath string) bool

// MessageHandler produces the application response for a verified message.
type MessageHandler func(peer endpoint.Addr, message string) string

// Option configures a PeerManager.
type Option func(*PeerManager)

// WithMessageHandler overrides the handler invoked for verified messages.
func WithMessageHandler(fn MessageHandler) Option {
	return func(pm *PeerManager) {
		pm.onMessage = fn
	}
}

// PeerManager pairs with a server and runs the handshake protocol: it
// listens for handshake payloads, issues a fresh secret per peer path, and
// answers authenticated messages.
type PeerManager struct {
	d         *dispatcher.Dispatcher
	srv       *server.Server
	verifier  Verifier
	onMessage MessageHandler

	mu      sync.Mutex
	secrets map[string][]byte
}

// New creates a PeerManager bound to srv and subscribes to its received
// signal. The verifier is authoritative: a peer it rejects never obtains a
// secret.
func New(d *dispatcher.Dispatcher, srv *server.Server, verifier Verifier, opts ...Option) *PeerManager {
	pm := &PeerManager{
		d:        d,
		srv:      srv,
		verifier: verifier,
		secrets:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(pm)
	}
	srv.Received.Connect(pm.handleReceived)
	return pm
}

// InsertSharedSecret records the secret for a peer path, replacing any
// previous one.
func (pm *PeerManager) InsertSharedSecret(peerPath string, secret []byte) {
	pm.mu.Lock()
	pm.secrets[peerPath] = secret
	pm.mu.Unlock()
}

// VerifySharedSecret reports whether the provided secret matches the one
// issued to the peer path. The comparison is constant-time.
func (pm *PeerManager) VerifySharedSecret(peerPath string, secret []byte) bool {
	pm.mu.Lock()
	issued, ok := pm.secrets[peerPath]
	pm.mu.Unlock()
	if !ok || len(issued) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare(issued, secret) == 1
}

// RemoveSharedSecret forgets the secret issued to a peer path.
func (pm *PeerManager) RemoveSharedSecret(peerPath string) {
	pm.mu.Lock()
	delete(pm.secrets, peerPath)
	pm.mu.Unlock()
}

// AsyncSend sends an encoded payload to a peer path through the server.
func (pm *PeerManager) AsyncSend(peerPath string, data []byte) {
	pm.srv.AsyncSend(data, endpoint.NewAddr(peerPath))
}

// handleReceived runs on the dispatcher for every user datagram the server
// delivers. Unparseable payloads and unverified peers are dropped silently.
func (pm *PeerManager) handleReceived(dg endpoint.Datagram) {
	if dg.Sender.Empty() {
		// An anonymous peer has no reply path; nothing to bind a secret
		// to.
		return
	}

	p, err := DecodePayload(dg.Data)
	if err != nil {
		log.Printf("peer_manager: %v", err)
		return
	}

	switch p.Type {
	case PayloadTypeHandshake:
		pm.handleHandshake(dg.Sender, dg.SenderPID)
	case PayloadTypeMessage:
		pm.handleMessage(dg.Sender, p)
	}
}

func (pm *PeerManager) handleHandshake(sender endpoint.Addr, senderPID int) {
	if pm.verifier == nil || !pm.verifier(senderPID, sender.Path()) {
		return
	}

	secret := make([]byte, SharedSecretSize)
	if _, err := rand.Read(secret); err != nil {
		log.Printf("peer_manager: generate secret: %v", err)
		return
	}
	pm.InsertSharedSecret(sender.Path(), secret)

	reply := &Payload{
		Type:   PayloadTypeSharedSecret,
		Secret: SecretToInts(secret),
	}
	pm.reply(sender, reply)
}

func (pm *PeerManager) handleMessage(sender endpoint.Addr, p *Payload) {
	response := InvalidSecretResponse
	if pm.VerifySharedSecret(sender.Path(), SecretFromInts(p.Secret)) {
		if pm.onMessage != nil {
			response = pm.onMessage(sender, p.Message)
		} else {
			response = p.Message
		}
	}

	reply := &Payload{
		Type:            PayloadTypeMessageResponse,
		MessageResponse: response,
	}
	pm.reply(sender, reply)
}

func (pm *PeerManager) reply(sender endpoint.Addr, p *Payload) {
	data, err := p.Encode()
	if err != nil {
		log.Printf("peer_manager: %v", err)
		return
	}
	pm.srv.AsyncSend(data, sender)
}
