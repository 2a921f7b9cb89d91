// Package miner implements a one-shot TCP client for the ASIC's encrypted
// request/response protocol: u32-LE length-prefixed framing, JSON
// payloads, with AES-128-ECB/PKCS7 for any response beyond the first
// unencrypted exchange.
package miner

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// maxResponseLength rejects any response claiming a body larger than this
// many bytes as a protocol fault, before a single byte of body is read.
const maxResponseLength = 100_000

// connectTimeout bounds the TCP dial; readTimeout is a single deadline
// covering the whole request write and response read.
const (
	connectTimeout = 10 * time.Second
	readTimeout    = 10 * time.Second
)

// Client performs exactly one request/response session per Fetch call; it
// is never reused across calls — construct, call, discard.
type Client struct {
	endpoint Endpoint
}

// New returns a Client for endpoint. Construct one per call site.
func New(endpoint Endpoint) *Client {
	return &Client{endpoint: endpoint}
}

// Fetch performs the get.device.info round trip and extracts the fields
// the controller needs.
func (c *Client) Fetch() (Reading, error) {
	return c.fetchWithSalt("")
}

// FetchWithSalt behaves like Fetch but, if salt is non-empty, is able to
// decrypt an AES-128-ECB response using the session key derived from it.
// The controller only ever issues the first unencrypted exchange, so salt
// is normally empty; this remains available for symmetry with the wire
// protocol and for tests exercising the decrypt path.
func (c *Client) FetchWithSalt(salt string) (Reading, error) {
	return c.fetchWithSalt(salt)
}

func (c *Client) fetchWithSalt(salt string) (Reading, error) {
	addr := fmt.Sprintf("%s:%d", c.endpoint.IP, c.endpoint.Port)

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return Reading{}, &ProtocolError{Kind: ErrConnect, Err: err}
	}
	defer conn.Close()

	req := requestEnvelope{Cmd: "get.device.info", Param: nil}
	payload, err := json.Marshal(req)
	if err != nil {
		return Reading{}, &ProtocolError{Kind: ErrDecodeError, Err: err}
	}

	if err := conn.SetDeadline(time.Now().Add(readTimeout)); err != nil {
		return Reading{}, &ProtocolError{Kind: ErrTimeout, Err: err}
	}

	if err := writeFrame(conn, payload); err != nil {
		return Reading{}, &ProtocolError{Kind: ErrTimeout, Err: err}
	}

	body, err := readFrame(conn)
	if err != nil {
		return Reading{}, err
	}

	doc, decodeErr := decodeResponse(body, c.endpoint, salt)
	if decodeErr != nil {
		return Reading{}, decodeErr
	}

	if doc.Code != 0 {
		return Reading{}, &ProtocolError{Kind: ErrAPIError, Code: doc.Code, Message: fmt.Sprintf("device returned code=%d", doc.Code)}
	}

	return Reading{
		LiquidC:    doc.Msg.Power.LiquidTemperature,
		PSUC:       doc.Msg.Power.Temp0,
		FanRPM:     doc.Msg.Power.FanSpeed,
		Salt:       doc.Msg.Salt,
		CapturedAt: time.Now(),
	}, nil
}

// writeFrame sends a u32-LE length prefix followed by payload.
func writeFrame(conn net.Conn, payload []byte) error {
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// readFrame reads a u32-LE length prefix and rejects absurd lengths before
// reading a single byte of body.
func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := readExact(conn, header); err != nil {
		return nil, &ProtocolError{Kind: ErrShortRead, Err: err}
	}

	length := binary.LittleEndian.Uint32(header)
	if length > maxResponseLength {
		return nil, &ProtocolError{Kind: ErrLengthAbsurd, Message: fmt.Sprintf("response length %d exceeds %d", length, maxResponseLength)}
	}

	body := make([]byte, length)
	if _, err := readExact(conn, body); err != nil {
		return nil, &ProtocolError{Kind: ErrShortRead, Err: err}
	}
	return body, nil
}

func readExact(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// decodeResponse tries a plain JSON decode first; if that fails, treats
// body as AES-128-ECB(PKCS7) ciphertext keyed from endpoint+salt.
func decodeResponse(body []byte, endpoint Endpoint, salt string) (*deviceInfoResponse, error) {
	var doc deviceInfoResponse
	if err := json.Unmarshal(body, &doc); err == nil {
		return &doc, nil
	}

	if salt == "" {
		return nil, &ProtocolError{Kind: ErrDecodeError, Message: "response is not valid JSON and no salt is available to decrypt it"}
	}

	plain, err := decryptECB(body, sessionKey(endpoint.Account, endpoint.Password, salt))
	if err != nil {
		return nil, &ProtocolError{Kind: ErrDecodeError, Err: err}
	}
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, &ProtocolError{Kind: ErrDecodeError, Err: err}
	}
	return &doc, nil
}

// sessionKey derives the AES-128 key from account, password and salt: the
// key is the first 16 ASCII characters of the MD5 hex digest string (i.e.
// 8 bytes of actual digest, hex-encoded), not the raw 16-byte digest.
func sessionKey(account, password, salt string) []byte {
	sum := md5.Sum([]byte(account + password + salt))
	hexDigest := hex.EncodeToString(sum[:])
	return []byte(hexDigest[:16])
}

// decryptECB decrypts ciphertext with AES-128 in ECB mode (block-by-block,
// no chaining) and removes PKCS7 padding. Go's standard library has no
// ECB mode by design (it is not authenticated and not a general-purpose
// choice) but the miner's wire protocol mandates it, so it is implemented
// directly here rather than pulled in from a third-party cipher-mode
// package — no example in the retrieval pack provides ECB support, and
// this is the one place in the system that needs it.
func decryptECB(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	blockSize := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of block size %d", len(ciphertext), blockSize)
	}

	plain := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += blockSize {
		block.Decrypt(plain[i:i+blockSize], ciphertext[i:i+blockSize])
	}

	return unpadPKCS7(plain, blockSize)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pkcs7: empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("pkcs7: invalid padding length %d", padLen)
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, fmt.Errorf("pkcs7: invalid padding bytes")
	}
	return data[:len(data)-padLen], nil
}
