package protocol

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// Routes served by the HTTP transport. Data-plane routes live under
// APIPrefix; the status route does not.
const (
	APIPrefix      = "/api/v1"
	InitialisePath = "/initialise"
	WriteBytePath  = "/writeByte"
	ReadBytePath   = "/readByte"
	ReadRangePath  = "/readRange"
	StatusPath     = "/status"

	HealthyBody = "Healthy"
)

// Query parameter names.
const (
	ParamID      = "id"
	ParamAddress = "address"
	ParamValue   = "value"
	ParamLength  = "length"
)

// ContentTypeJSON is the only media type accepted for initialise bodies.
const ContentTypeJSON = "application/json"

var (
	// ErrDecodingFailure marks a request whose payload or parameters could not
	// be decoded.
	ErrDecodingFailure = errors.New("decoding failure")
	// ErrUnsupportedMediaType marks an initialise body not declared as JSON.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// ProgramState is the body of an initialise request. ProgramState holds the
// image bytes in standard padded base64.
type ProgramState struct {
	ID           string `json:"id"`
	ProgramState string `json:"program_state"`
}

func NewProgramState(id string, data []byte) *ProgramState {
	return &ProgramState{
		ID:           id,
		ProgramState: base64.StdEncoding.EncodeToString(data),
	}
}

func (p *ProgramState) Serialize() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode program state")
	}
	return data, nil
}

// Bytes decodes the base64 image.
func (p *ProgramState) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.ProgramState)
	if err != nil {
		return nil, errors.Wrapf(ErrDecodingFailure, "program_state: %v", err)
	}
	return data, nil
}

// DecodeProgramState reads an initialise body and returns the identifier and
// the decoded image.
func DecodeProgramState(r io.Reader) (string, []byte, error) {
	var p ProgramState
	dec := json.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return "", nil, errors.Wrapf(ErrDecodingFailure, "body: %v", err)
	}
	if p.ID == "" {
		return "", nil, errors.Wrap(ErrDecodingFailure, "missing id")
	}

	data, err := p.Bytes()
	if err != nil {
		return "", nil, err
	}
	return p.ID, data, nil
}

// CheckContentType accepts "application/json" with optional parameters such
// as charset.
func CheckContentType(header string) error {
	if header == "" {
		return errors.Wrapf(ErrUnsupportedMediaType, "missing Content-Type, want %s", ContentTypeJSON)
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType != ContentTypeJSON {
		return errors.Wrapf(ErrUnsupportedMediaType, "Content-Type %q, want %s", header, ContentTypeJSON)
	}
	return nil
}

func EncodeRange(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func DecodeRange(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrDecodingFailure, "range: %v", err)
	}
	return data, nil
}

func ParseID(q url.Values) (string, error) {
	id := q.Get(ParamID)
	if id == "" {
		return "", errors.Wrap(ErrDecodingFailure, "missing id")
	}
	return id, nil
}

func ParseAddress(q url.Values) (uint16, error) {
	v, err := parseUint(q, ParamAddress, 16)
	return uint16(v), err
}

func ParseLength(q url.Values) (uint16, error) {
	v, err := parseUint(q, ParamLength, 16)
	return uint16(v), err
}

func ParseValue(q url.Values) (uint8, error) {
	v, err := parseUint(q, ParamValue, 8)
	return uint8(v), err
}

func parseUint(q url.Values, name string, bitSize int) (uint64, error) {
	raw, ok := q[name]
	if !ok || len(raw) == 0 {
		return 0, errors.Wrapf(ErrDecodingFailure, "missing %s", name)
	}
	v, err := strconv.ParseUint(raw[0], 10, bitSize)
	if err != nil {
		return 0, errors.Wrapf(ErrDecodingFailure, "%s %q is not a %d-bit unsigned integer", name, raw[0], bitSize)
	}
	return v, nil
}

// Query builds the query string for a data-plane request.
func Query(id string, params map[string]uint64) string {
	q := url.Values{}
	q.Set(ParamID, id)
	for k, v := range params {
		q.Set(k, strconv.FormatUint(v, 10))
	}
	return q.Encode()
}
