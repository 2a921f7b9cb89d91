package miner

import (
	"crypto/aes"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFakeServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	return ln.Addr().String()
}

func readFrameForTest(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, 4)
	_, err := readExact(conn, header)
	require.NoError(t, err)
	length := binary.LittleEndian.Uint32(header)
	body := make([]byte, length)
	_, err = readExact(conn, body)
	require.NoError(t, err)
	return body
}

func writeFrameForTest(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, writeFrame(conn, payload))
}

func dialEndpoint(addr string) Endpoint {
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmtSscan(portStr, &port)
	return Endpoint{IP: host, Port: port, Account: "super", Password: "super"}
}

func fmtSscan(s string, out *int) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		n = n*10 + int(r-'0')
	}
	*out = n
}

func TestFetchPlainJSON(t *testing.T) {
	liquid := 48.5
	addr := startFakeServer(t, func(conn net.Conn) {
		_ = readFrameForTest(t, conn)
		resp := deviceInfoResponse{
			Code: 0,
			Msg: msgDoc{
				Salt: "abc123",
				Power: powerDoc{
					LiquidTemperature: &liquid,
				},
			},
		}
		body, _ := json.Marshal(resp)
		writeFrameForTest(t, conn, body)
	})

	c := New(dialEndpoint(addr))
	reading, err := c.Fetch()
	require.NoError(t, err)
	require.NotNil(t, reading.LiquidC)
	assert.Equal(t, 48.5, *reading.LiquidC)
	assert.Equal(t, "abc123", reading.Salt)
}

func TestFetchLengthAbsurdGuard(t *testing.T) {
	addr := startFakeServer(t, func(conn net.Conn) {
		_ = readFrameForTest(t, conn)
		header := make([]byte, 4)
		binary.LittleEndian.PutUint32(header, 0x000493E1) // > 100000
		_, _ = conn.Write(header)
		// no body: the client must not attempt to read it
		time.Sleep(50 * time.Millisecond)
	})

	c := New(dialEndpoint(addr))
	_, err := c.Fetch()
	require.Error(t, err)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ErrLengthAbsurd, protoErr.Kind)
}

func TestFetchAPIError(t *testing.T) {
	addr := startFakeServer(t, func(conn net.Conn) {
		_ = readFrameForTest(t, conn)
		resp := deviceInfoResponse{Code: 1}
		body, _ := json.Marshal(resp)
		writeFrameForTest(t, conn, body)
	})

	c := New(dialEndpoint(addr))
	_, err := c.Fetch()
	require.Error(t, err)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ErrAPIError, protoErr.Kind)
	assert.Equal(t, 1, protoErr.Code)
}

func TestFetchEncryptedResponse(t *testing.T) {
	const salt = "s4lt-value"
	endpoint := Endpoint{Account: "super", Password: "super"}
	key := sessionKey(endpoint.Account, endpoint.Password, salt)

	liquid := 51.2
	resp := deviceInfoResponse{
		Code: 0,
		Msg: msgDoc{
			Salt:  salt,
			Power: powerDoc{LiquidTemperature: &liquid},
		},
	}
	plain, err := json.Marshal(resp)
	require.NoError(t, err)

	cipherText := encryptECBForTest(t, plain, key)

	addr := startFakeServer(t, func(conn net.Conn) {
		_ = readFrameForTest(t, conn)
		writeFrameForTest(t, conn, cipherText)
	})

	ep := dialEndpoint(addr)
	c := New(ep)
	reading, err := c.FetchWithSalt(salt)
	require.NoError(t, err)
	require.NotNil(t, reading.LiquidC)
	assert.Equal(t, 51.2, *reading.LiquidC)
}

func TestSessionKeyDerivationIsHexSlice(t *testing.T) {
	// Matches the exact (unusual) original derivation: first 16 hex
	// characters of the MD5 digest, not the raw digest bytes.
	key := sessionKey("super", "super", "mysalt")
	assert.Len(t, key, 16)
	for _, b := range key {
		isHexChar := (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
		assert.True(t, isHexChar, "key byte %q must be an ASCII hex character", b)
	}
}

func encryptECBForTest(t *testing.T, plain, key []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	blockSize := block.BlockSize()

	padLen := blockSize - len(plain)%blockSize
	padded := append(append([]byte{}, plain...), make([]byte, padLen)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += blockSize {
		block.Encrypt(out[i:i+blockSize], padded[i:i+blockSize])
	}
	return out
}
