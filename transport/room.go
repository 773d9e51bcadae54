package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
)

const ErrRoomAccessDenied = errors.ConstError("room access denied")

// RoomClient polls open group servers.
type RoomClient struct {
	base
}

var _ swarmpoll.RoomTransport = (*RoomClient)(nil)

func NewRoomClient(cfg Config) (*RoomClient, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &RoomClient{base: b}, nil
}

// roomMessage is one entry of a room's message list. Deleted messages
// come back with a null data field.
type roomMessage struct {
	ID        int64   `json:"id"`
	SessionID string  `json:"session_id"`
	Posted    float64 `json:"posted"`
	SeqNo     int64   `json:"seqno"`
	Data      *string `json:"data"`
	Deleted   bool    `json:"deleted"`
}

func (m roomMessage) envelope() swarmpoll.RawEnvelope {
	raw := swarmpoll.RawEnvelope{
		// an edit keeps the id but gets a new seqno
		Hash:      strconv.FormatInt(m.ID, 10) + "." + strconv.FormatInt(m.SeqNo, 10),
		Timestamp: int64(m.Posted * 1000),
		ServerID:  m.ID,
		SeqNo:     m.SeqNo,
		Sender:    m.SessionID,
		Deleted:   m.Deleted || m.Data == nil,
	}
	if m.Data != nil {
		raw.Data = *m.Data
	}
	return raw
}

func roomPath(room string, since int64) string {
	p := "/room/" + url.PathEscape(room) + "/messages/"
	if since <= 0 {
		return p + "recent"
	}
	return p + "since/" + strconv.FormatInt(since, 10)
}

// PollRoom fetches the messages of room posted after sinceSeqNo, or the
// recent window when sinceSeqNo is not positive.
func (c *RoomClient) PollRoom(ctx context.Context, server, room string, sinceSeqNo int64) (swarmpoll.RoomResponse, error) {
	u := strings.TrimRight(server, "/") + roomPath(room, sinceSeqNo)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return swarmpoll.RoomResponse{}, errors.Annotatef(err, "building room request")
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(ctx, req)
	if err != nil {
		return swarmpoll.RoomResponse{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return swarmpoll.RoomResponse{}, errors.Annotatef(ErrRoomAccessDenied, "%s/%s", server, room)
	default:
		return swarmpoll.RoomResponse{}, errors.Annotatef(errUnexpectedStatus, "%s/%s: %d %s", server, room, status, snippet(body))
	}

	var msgs []roomMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		return swarmpoll.RoomResponse{}, errors.Annotatef(err, "decoding messages of %s/%s", server, room)
	}
	resp := swarmpoll.RoomResponse{Envelopes: make([]swarmpoll.RawEnvelope, 0, len(msgs))}
	for _, m := range msgs {
		resp.Envelopes = append(resp.Envelopes, m.envelope())
		if m.SeqNo > resp.SeqNo {
			resp.SeqNo = m.SeqNo
		}
	}
	return resp, nil
}
