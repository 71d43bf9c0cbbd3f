package situations

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Event is one flattened traffic disturbance (an upstream Deviation).
// Events are built once per update pass and never mutated.
type Event struct {
	SituationID string
	DeviationID string

	IconID           string
	MessageType      string
	MessageTypeValue string
	Header           string
	Message          string
	SeverityCode     *int
	SeverityText     string

	RoadNumber             string
	RoadName               string
	CountyNo               []int
	AffectedDirection      string
	AffectedDirectionValue string
	LocationDescriptor     string
	PositionalDescription  string
	GeometryWGS84          string

	StartTime               *time.Time
	EndTime                 *time.Time
	ValidUntilFurtherNotice *bool
	Suspended               *bool

	TrafficRestrictionType  string
	TemporaryLimit          string
	NumberOfLanesRestricted *int
	SafetyRelatedMessage    *bool
	WebLink                 string

	VersionTime     *time.Time
	PublicationTime *time.Time
	ModifiedTime    *time.Time
}

// RemoteIconURL returns the icon endpoint URL for the event's IconId, or
// an empty string if the event carries none.
func (e Event) RemoteIconURL() string {
	if e.IconID == "" {
		return ""
	}

	return DefaultIconURL + url.PathEscape(e.IconID)
}

// AsAttributes flattens the event into a map suitable for display
// consumers, with timestamps formatted as RFC3339.
func (e Event) AsAttributes() map[string]any {
	ts := func(t *time.Time) any {
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339)
	}

	var iconURL any
	if e.IconID != "" {
		iconURL = e.RemoteIconURL()
	}

	return map[string]any{
		"situation_id":               e.SituationID,
		"deviation_id":               e.DeviationID,
		"icon_id":                    e.IconID,
		"icon_url":                   iconURL,
		"message_type":               e.MessageType,
		"message_type_value":         e.MessageTypeValue,
		"header":                     e.Header,
		"message":                    e.Message,
		"severity_code":              e.SeverityCode,
		"severity_text":              e.SeverityText,
		"road_number":                e.RoadNumber,
		"road_name":                  e.RoadName,
		"county_no":                  e.CountyNo,
		"affected_direction":         e.AffectedDirection,
		"affected_direction_value":   e.AffectedDirectionValue,
		"start_time":                 ts(e.StartTime),
		"end_time":                   ts(e.EndTime),
		"valid_until_further_notice": e.ValidUntilFurtherNotice,
		"suspended":                  e.Suspended,
		"location_descriptor":        e.LocationDescriptor,
		"positional_description":     e.PositionalDescription,
		"traffic_restriction_type":   e.TrafficRestrictionType,
		"temporary_limit":            e.TemporaryLimit,
		"number_of_lanes_restricted": e.NumberOfLanesRestricted,
		"safety_related_message":     e.SafetyRelatedMessage,
		"weblink":                    e.WebLink,
		"geometry_wgs84":             e.GeometryWGS84,
		"version_time":               ts(e.VersionTime),
		"publication_time":           ts(e.PublicationTime),
		"modified_time":              ts(e.ModifiedTime),
	}
}

// Snapshot is the result of one successful update pass: the reduced event
// list plus feed metadata. The SSEURL is surfaced as metadata only.
type Snapshot struct {
	Events       []Event
	LastModified *time.Time
	LastChangeID string
	SSEURL       string
}

// The feed may wrap every element in an XML namespace. Struct tags without
// a namespace match by local name, so decoding stays namespace agnostic.
type situationResponse struct {
	Results []struct {
		Error *struct {
			Source  string `xml:"SOURCE"`
			Message string `xml:"MESSAGE"`
		} `xml:"ERROR"`
		Info *struct {
			LastModified struct {
				DateTime string `xml:"datetime,attr"`
			} `xml:"LASTMODIFIED"`
			LastChangeID string `xml:"LASTCHANGEID"`
			SSEURL       string `xml:"SSEURL"`
		} `xml:"INFO"`
		Situations []rawSituation `xml:"Situation"`
	} `xml:"RESULT"`
}

type rawSituation struct {
	ID              string         `xml:"Id"`
	Deleted         string         `xml:"Deleted"`
	PublicationTime string         `xml:"PublicationTime"`
	VersionTime     string         `xml:"VersionTime"`
	ModifiedTime    string         `xml:"ModifiedTime"`
	Deviations      []rawDeviation `xml:"Deviation"`
}

type rawDeviation struct {
	ID                      string   `xml:"Id"`
	IconID                  string   `xml:"IconId"`
	MessageType             string   `xml:"MessageType"`
	MessageTypeValue        string   `xml:"MessageTypeValue"`
	Header                  string   `xml:"Header"`
	Message                 string   `xml:"Message"`
	SeverityCode            string   `xml:"SeverityCode"`
	SeverityText            string   `xml:"SeverityText"`
	RoadNumber              string   `xml:"RoadNumber"`
	RoadName                string   `xml:"RoadName"`
	CountyNo                []string `xml:"CountyNo"`
	AffectedDirection       string   `xml:"AffectedDirection"`
	AffectedDirectionValue  string   `xml:"AffectedDirectionValue"`
	StartTime               string   `xml:"StartTime"`
	EndTime                 string   `xml:"EndTime"`
	ValidUntilFurtherNotice string   `xml:"ValidUntilFurtherNotice"`
	Suspended               string   `xml:"Suspended"`
	LocationDescriptor      string   `xml:"LocationDescriptor"`
	PositionalDescription   string   `xml:"PositionalDescription"`
	TrafficRestrictionType  string   `xml:"TrafficRestrictionType"`
	TemporaryLimit          string   `xml:"TemporaryLimit"`
	NumberOfLanesRestricted string   `xml:"NumberOfLanesRestricted"`
	SafetyRelatedMessage    string   `xml:"SafetyRelatedMessage"`
	WebLink                 string   `xml:"WebLink"`
	Geometry                struct {
		WGS84 string `xml:"WGS84"`
		Point struct {
			WGS84 string `xml:"WGS84"`
		} `xml:"Point"`
		Line struct {
			WGS84 string `xml:"WGS84"`
		} `xml:"Line"`
	} `xml:"Geometry"`
}

func (d rawDeviation) geometryWGS84() string {
	for _, g := range []string{d.Geometry.Point.WGS84, d.Geometry.Line.WGS84, d.Geometry.WGS84} {
		if s := strOrEmpty(g); s != "" {
			return s
		}
	}

	return ""
}

// Permissive scalar converters: each is independently fallible and
// degrades to empty/nil instead of failing the whole parse.

func strOrEmpty(s string) string {
	return strings.TrimSpace(s)
}

func boolOrNil(s string) *bool {
	switch strings.ToLower(strOrEmpty(s)) {
	case "true", "1", "yes":
		b := true
		return &b
	case "false", "0", "no":
		b := false
		return &b
	}

	return nil
}

func intOrNil(s string) *int {
	v, err := strconv.Atoi(strOrEmpty(s))
	if err != nil {
		return nil
	}

	return &v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timeOrNil(s string) *time.Time {
	v := strOrEmpty(s)
	if v == "" {
		return nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}

	return nil
}

// findErrorMessage scans the document for the first ERROR/MESSAGE pair by
// local element name, wherever the feed placed it.
func findErrorMessage(doc []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(doc))

	errDepth := 0
	inMessage := false
	var msg strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "ERROR" {
				errDepth++
			} else if errDepth > 0 && t.Name.Local == "MESSAGE" {
				inMessage = true
			}
		case xml.EndElement:
			if t.Name.Local == "ERROR" && errDepth > 0 {
				errDepth--
			} else if t.Name.Local == "MESSAGE" && inMessage {
				if s := strings.TrimSpace(msg.String()); s != "" {
					return s, true
				}
				inMessage = false
				msg.Reset()
			}
		case xml.CharData:
			if inMessage {
				msg.Write(t)
			}
		}
	}
}

// parseResponse turns a response document into a full, unfiltered
// snapshot. Deviations that are suspended, or whose end time is already in
// the past relative to now, never enter the model.
func parseResponse(doc []byte, now time.Time) (*Snapshot, error) {
	resp := &situationResponse{}

	err := xml.Unmarshal(doc, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err.Error())
	}

	if msg, found := findErrorMessage(doc); found {
		lowered := strings.ToLower(msg)
		if strings.Contains(lowered, "authentication") || strings.Contains(lowered, "invalid key") {
			return nil, fmt.Errorf("%w: %s", ErrAuthentication, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrAPI, msg)
	}

	snapshot := &Snapshot{Events: []Event{}}

	for _, result := range resp.Results {
		if result.Info != nil {
			snapshot.LastModified = timeOrNil(result.Info.LastModified.DateTime)
			snapshot.LastChangeID = strOrEmpty(result.Info.LastChangeID)
			snapshot.SSEURL = strOrEmpty(result.Info.SSEURL)
		}

		for _, situation := range result.Situations {
			if deleted := boolOrNil(situation.Deleted); deleted != nil && *deleted {
				continue
			}

			situationID := strOrEmpty(situation.ID)
			pubTime := timeOrNil(situation.PublicationTime)
			versionTime := timeOrNil(situation.VersionTime)
			modifiedTime := timeOrNil(situation.ModifiedTime)

			for _, dev := range situation.Deviations {
				suspended := boolOrNil(dev.Suspended)
				if suspended != nil && *suspended {
					continue
				}

				endTime := timeOrNil(dev.EndTime)
				if endTime != nil && endTime.Before(now) {
					continue
				}

				var counties []int
				for _, c := range dev.CountyNo {
					if v := intOrNil(c); v != nil {
						counties = append(counties, *v)
					}
				}

				snapshot.Events = append(snapshot.Events, Event{
					SituationID:             situationID,
					DeviationID:             strOrEmpty(dev.ID),
					IconID:                  strOrEmpty(dev.IconID),
					MessageType:             strOrEmpty(dev.MessageType),
					MessageTypeValue:        strOrEmpty(dev.MessageTypeValue),
					Header:                  strOrEmpty(dev.Header),
					Message:                 strOrEmpty(dev.Message),
					SeverityCode:            intOrNil(dev.SeverityCode),
					SeverityText:            strOrEmpty(dev.SeverityText),
					RoadNumber:              strOrEmpty(dev.RoadNumber),
					RoadName:                strOrEmpty(dev.RoadName),
					CountyNo:                counties,
					AffectedDirection:       strOrEmpty(dev.AffectedDirection),
					AffectedDirectionValue:  strOrEmpty(dev.AffectedDirectionValue),
					StartTime:               timeOrNil(dev.StartTime),
					EndTime:                 endTime,
					ValidUntilFurtherNotice: boolOrNil(dev.ValidUntilFurtherNotice),
					Suspended:               suspended,
					LocationDescriptor:      strOrEmpty(dev.LocationDescriptor),
					PositionalDescription:   strOrEmpty(dev.PositionalDescription),
					TrafficRestrictionType:  strOrEmpty(dev.TrafficRestrictionType),
					TemporaryLimit:          strOrEmpty(dev.TemporaryLimit),
					NumberOfLanesRestricted: intOrNil(dev.NumberOfLanesRestricted),
					SafetyRelatedMessage:    boolOrNil(dev.SafetyRelatedMessage),
					WebLink:                 strOrEmpty(dev.WebLink),
					GeometryWGS84:           dev.geometryWGS84(),
					VersionTime:             versionTime,
					PublicationTime:         pubTime,
					ModifiedTime:            modifiedTime,
				})
			}
		}
	}

	// Stable fallback ordering before any consumer chosen sort: newest
	// publication first (missing time sorts last), then ids ascending.
	sort.SliceStable(snapshot.Events, func(i, j int) bool {
		a, b := snapshot.Events[i], snapshot.Events[j]
		ta, tb := pubTimestamp(a), pubTimestamp(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		if a.SituationID != b.SituationID {
			return a.SituationID < b.SituationID
		}
		return a.DeviationID < b.DeviationID
	})

	return snapshot, nil
}

func pubTimestamp(e Event) time.Time {
	if e.PublicationTime == nil {
		return time.Time{}
	}

	return *e.PublicationTime
}
