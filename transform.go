package uploader

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
)

var (
	errNoXMLRoot        = errors.New("response is not an XML document")
	errMissingMessage   = errors.New("XML document has no Message element")
	errMissingCode      = errors.New("XML document has no Code element")
	errEmptyJSONPayload = errors.New("empty JSON payload")
)

// parseXMLError extracts the error elements of an S3-like response.
// A document without Message (or without Code when requireCode is set)
// is reported as FailedTransformResponse.
func parseXMLError(body []byte, requireCode bool) (*XMLDocument, error) {
	doc := &XMLDocument{Raw: string(body)}
	dec := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewTransformError(string(body), err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if doc.XMLName.Local == "" {
			doc.XMLName = se.Name
			continue
		}

		var target *string
		switch se.Name.Local {
		case "Code":
			if !doc.HasCode {
				target, doc.HasCode = &doc.Code, true
			}
		case "Message":
			if !doc.HasMessage {
				target, doc.HasMessage = &doc.Message, true
			}
		case "RequestId":
			target = &doc.RequestID
		case "HostId":
			target = &doc.HostID
		case "Resource":
			target = &doc.Resource
		}
		if target == nil {
			continue
		}
		if err := dec.DecodeElement(target, &se); err != nil {
			return nil, NewTransformError(string(body), err)
		}
	}

	if doc.XMLName.Local == "" {
		return nil, NewTransformError(string(body), errNoXMLRoot)
	}
	if !doc.HasMessage {
		return nil, NewTransformError(string(body), errMissingMessage)
	}
	if requireCode && !doc.HasCode {
		return nil, NewTransformError(string(body), errMissingCode)
	}
	return doc, nil
}

// decodeEnvelope parses a service API response body.
func decodeEnvelope(body []byte) (*Response, error) {
	var resp Response
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// decodeJSON unmarshals a backend payload, mapping failures to FailedTransformResponse.
func decodeJSON(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return NewTransformError("", errEmptyJSONPayload)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewTransformError(string(body), err)
	}
	return nil
}
