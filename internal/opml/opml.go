// Package opml encodes and decodes feed subscription lists in OPML 2.0.
package opml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"
)

// ErrNoBody is returned when a document parses but has no <body>.
var ErrNoBody = errors.New("opml document has no body")

// Subscription is a named feed link.
type Subscription struct {
	Name string
	Link string
}

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    *body    `xml:"body"`
}

type head struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline"`
}

// Encode renders subs as an OPML document created at now.
func Encode(subs []Subscription, now time.Time) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       "RSStT subscriptions",
			DateCreated: now.UTC().Format(time.RFC1123Z),
		},
		Body: &body{},
	}
	for _, s := range subs {
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Text:   s.Name,
			Title:  s.Name,
			Type:   "rss",
			XMLURL: s.Link,
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses an OPML document and returns every outline that carries a
// feed link, flattening nested categories. The name falls back from text to
// title to the link itself.
func Decode(data []byte) ([]Subscription, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	if doc.Body == nil {
		return nil, ErrNoBody
	}

	var subs []Subscription
	var walk func([]outline)
	walk = func(outlines []outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				if name == "" {
					name = o.XMLURL
				}
				subs = append(subs, Subscription{Name: name, Link: o.XMLURL})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return subs, nil
}
