package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/brandon/mail-gateway/internal/email"
)

// errBadRequest marks malformed input
var errBadRequest = errors.New("bad request")

// requestFields are the flat string fields of a JSON, urlencoded or
// multipart request body
type requestFields map[string]string

// readFields decodes the request body by content type. Multipart bodies are
// parsed into r.MultipartForm so files stay available to the caller.
func readFields(r *http.Request, maxBytes int64) (requestFields, error) {
	fields := requestFields{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, fmt.Errorf("%w: invalid multipart body: %v", errBadRequest, err)
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: invalid form body: %v", errBadRequest, err)
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}

	default:
		if r.Body == nil {
			return fields, nil
		}
		var raw map[string]any
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return fields, nil
			}
			return nil, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
		}
		for k, v := range raw {
			switch v := v.(type) {
			case string:
				fields[k] = v
			case json.Number:
				fields[k] = v.String()
			case bool:
				fields[k] = strconv.FormatBool(v)
			}
		}
	}

	return fields, nil
}

// credential returns the mailbox credential; both fields are required
func (f requestFields) credential() (email.Credential, error) {
	cred := email.Credential{
		Address: strings.TrimSpace(f["email"]),
		Secret:  f["password"],
	}
	if cred.Address == "" || cred.Secret == "" {
		return cred, fmt.Errorf("%w: email and password are required", errBadRequest)
	}
	return cred, nil
}

// intValue parses an optional non-negative integer field
func (f requestFields) intValue(key string, def int) (int, error) {
	v := strings.TrimSpace(f[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}
