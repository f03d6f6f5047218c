package protocol

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// SOAP actions and endpoints for the order-entry service. Each gateway
// operation is identified by a fixed action name.
const (
	EndpointOrderEntry  = "/MFOrderEntry/MFOrder.svc/Secure"
	EndpointOrderStatus = "/StarMFAPI/api/OrderStatus/Details"

	ActionOrderEntry  = "http://bsestarmf.in/MFOrderEntry/orderEntryParam"
	ActionGetPassword = "http://bsestarmf.in/MFOrderEntry/getPassword"
)

// Local names of the response elements nested inside the SOAP body.
const (
	orderEntryResultElement  = "orderEntryParamResult"
	getPasswordResultElement = "getPasswordResult"
)

// ParseError reports an envelope whose expected nested element is
// absent or malformed. A parse failure carries no gateway-issued
// business meaning and must never be treated as a rejection.
type ParseError struct {
	Element string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol parse error: element %s: %s", e.Element, e.Reason)
}

// BuildEnvelope wraps an operation body in the fixed SOAP 1.2 envelope
// the gateway expects.
func BuildEnvelope(body string) string {
	var b strings.Builder
	b.WriteString(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:bse="http://bsestarmf.in/">`)
	b.WriteString(`<soap:Body>`)
	b.WriteString(body)
	b.WriteString(`</soap:Body>`)
	b.WriteString(`</soap:Envelope>`)
	return b.String()
}

// BuildOrderEntryBody builds the order-entry operation body holding the
// single positional parameter string.
func BuildOrderEntryBody(pipeParams string) string {
	return fmt.Sprintf(`<bse:orderEntryParam><bse:Param>%s</bse:Param></bse:orderEntryParam>`, escapeXML(pipeParams))
}

// BuildGetPasswordBody builds the getPassword operation body.
func BuildGetPasswordBody(pipeParams string) string {
	return fmt.Sprintf(`<bse:getPassword><bse:Param>%s</bse:Param></bse:getPassword>`, escapeXML(pipeParams))
}

// ExtractOrderEntryResult pulls the raw pipe-delimited result string out
// of an order-entry response envelope.
func ExtractOrderEntryResult(body []byte) (string, error) {
	return extractResult(body, orderEntryResultElement)
}

// ExtractGetPasswordResult pulls the raw pipe-delimited result string
// out of a getPassword response envelope.
func ExtractGetPasswordResult(body []byte) (string, error) {
	return extractResult(body, getPasswordResultElement)
}

// extractResult walks the envelope tokens and returns the character data
// of the first element whose local name matches. Matching on local name
// tolerates both namespace prefixes observed in the wild (soap: and s:)
// for the envelope and body elements.
func extractResult(body []byte, element string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))

	inTarget := false
	var value strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == element {
				inTarget = true
			}
		case xml.CharData:
			if inTarget {
				value.Write(t)
			}
		case xml.EndElement:
			if inTarget && t.Name.Local == element {
				result := strings.TrimSpace(value.String())
				if result == "" {
					return "", &ParseError{Element: element, Reason: "empty result"}
				}
				return result, nil
			}
		}
	}

	return "", &ParseError{Element: element, Reason: "element not found"}
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
