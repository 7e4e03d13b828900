package channel

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Frames and handshake match Python's multiprocessing.connection so a
// training process can talk to the monitor with Client(address, authkey).
const (
	challengeTag = "#CHALLENGE#"
	welcomeTag   = "#WELCOME#"
	failureTag   = "#FAILURE#"

	nonceSize          = 20
	handshakeFrameSize = 256
	DefaultMaxFrame    = 1 << 20
)

var digests = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

func writeFrame(w io.Writer, b []byte) error {
	if len(b) > math.MaxInt32 {
		return errors.Errorf("frame of %d bytes is too large", len(b))
	}
	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := int64(int32(binary.BigEndian.Uint32(hdr[:])))
	if size == -1 {
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		u := binary.BigEndian.Uint64(ext[:])
		if u > math.MaxInt32 {
			return nil, errors.Errorf("frame of %d bytes exceeds limit %d", u, maxSize)
		}
		size = int64(u)
	}
	if size < 0 {
		return nil, errors.Errorf("negative frame size %d", size)
	}
	if size > int64(maxSize) {
		return nil, errors.Errorf("frame of %d bytes exceeds limit %d", size, maxSize)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// splitDigest separates a "{name}" prefix from payload. An empty name
// means the legacy HMAC-MD5 form.
func splitDigest(b []byte) (string, []byte, error) {
	if len(b) == 0 || b[0] != '{' {
		return "", b, nil
	}
	end := bytes.IndexByte(b, '}')
	if end < 0 || end > 20 {
		return "", nil, errors.New("malformed digest prefix")
	}
	name := string(b[1:end])
	if _, ok := digests[name]; !ok {
		return "", nil, errors.Errorf("unsupported digest %q", name)
	}
	return name, b[end+1:], nil
}

func mac(name string, key, msg []byte) []byte {
	if name == "" {
		name = "md5"
	}
	h := hmac.New(digests[name], key)
	h.Write(msg)
	return h.Sum(nil)
}

// response builds the reply to a challenge body (the bytes after the tag).
func response(key, challenge []byte) ([]byte, error) {
	name, _, err := splitDigest(challenge)
	if err != nil {
		return nil, err
	}
	sum := mac(name, key, challenge)
	if name == "" {
		return sum, nil
	}
	return append([]byte("{"+name+"}"), sum...), nil
}

func verify(key, challenge, resp []byte) bool {
	name, sum, err := splitDigest(resp)
	if err != nil {
		return false
	}
	return hmac.Equal(sum, mac(name, key, challenge))
}

// deliverChallenge is the verifying half: send a nonce, check the reply.
func deliverChallenge(rw io.ReadWriter, key []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "generate nonce")
	}
	if err := writeFrame(rw, append([]byte(challengeTag), nonce...)); err != nil {
		return errors.Wrap(err, "send challenge")
	}
	resp, err := readFrame(rw, handshakeFrameSize)
	if err != nil {
		return errors.Wrap(err, "read challenge response")
	}
	if !verify(key, nonce, resp) {
		_ = writeFrame(rw, []byte(failureTag))
		return errors.Wrap(ErrAuthFailed, "digest mismatch")
	}
	return errors.Wrap(writeFrame(rw, []byte(welcomeTag)), "send welcome")
}

// answerChallenge is the proving half.
func answerChallenge(rw io.ReadWriter, key []byte) error {
	msg, err := readFrame(rw, handshakeFrameSize)
	if err != nil {
		return errors.Wrap(err, "read challenge")
	}
	if !bytes.HasPrefix(msg, []byte(challengeTag)) {
		return errors.Wrapf(ErrAuthFailed, "unexpected challenge %q", truncate(msg))
	}
	resp, err := response(key, msg[len(challengeTag):])
	if err != nil {
		return errors.Wrap(ErrAuthFailed, err.Error())
	}
	if err := writeFrame(rw, resp); err != nil {
		return errors.Wrap(err, "send challenge response")
	}
	verdict, err := readFrame(rw, handshakeFrameSize)
	if err != nil {
		return errors.Wrap(err, "read verdict")
	}
	if string(verdict) != welcomeTag {
		return errors.Wrapf(ErrAuthFailed, "peer answered %q", truncate(verdict))
	}
	return nil
}

func truncate(b []byte) []byte {
	if len(b) > 32 {
		return b[:32]
	}
	return b
}
