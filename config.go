package castcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RtcpMode selects compound vs reduced-size RTCP, per spec.md §6.
type RtcpMode int

const (
	RtcpModeCompound RtcpMode = iota
	RtcpModeReducedSize
)

// SenderConfig is the per-stream sender configuration spec.md §6
// enumerates. Fields with no sane zero-value default (SSRCs, payload
// type) must be set by the caller; Validate reports the rest.
type SenderConfig struct {
	SenderSSRC           uint32
	IncomingFeedbackSSRC uint32
	RtcpIntervalMs       int32
	RtcpCName            string
	RtcpMode             RtcpMode
	RtpHistoryMs         int32
	RtpMaxDelayMs        int32
	RtpPayloadType       int32
	UseExternalEncoder   bool

	// Codec-specific; audio fields are ignored for a video stream and
	// vice versa.
	Frequency         int32
	Channels          int32
	Bitrate           int32
	Width             int32
	Height            int32
	MinQP             int32
	MaxQP             int32
	MaxFrameRate      float64
	VideoBufferFrames int

	AesKey    []byte // 0 or 16 bytes
	AesIVMask []byte // 0 or 16 bytes

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Validate checks SenderConfig per spec.md §7 ("wrong AES key length
// is a programmer error and halts startup"), filling in defaults for
// fields the caller left zero.
func (c *SenderConfig) Validate() error {
	if c.SenderSSRC == 0 {
		return errors.New("castcore: SenderConfig.SenderSSRC must be set")
	}
	if len(c.AesKey) != 0 && len(c.AesKey) != 16 {
		return fmt.Errorf("castcore: AesKey must be 0 or 16 bytes, got %d", len(c.AesKey))
	}
	if len(c.AesIVMask) != 0 && len(c.AesIVMask) != 16 {
		return fmt.Errorf("castcore: AesIVMask must be 0 or 16 bytes, got %d", len(c.AesIVMask))
	}
	if (len(c.AesKey) == 0) != (len(c.AesIVMask) == 0) {
		return errors.New("castcore: AesKey and AesIVMask must both be set or both be empty")
	}
	if c.RtcpCName == "" {
		c.RtcpCName = uuid.NewString()
	}
	if c.RtcpIntervalMs == 0 {
		c.RtcpIntervalMs = 500
	}
	if c.RtpMaxDelayMs == 0 {
		c.RtpMaxDelayMs = int32(MaxAudioFrameWait / time.Millisecond)
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return nil
}

// ReceiverConfig is the per-stream receiver configuration spec.md §6
// enumerates.
type ReceiverConfig struct {
	FeedbackSSRC       uint32
	IncomingSSRC       uint32
	RtcpIntervalMs     int32
	RtcpCName          string
	RtcpMode           RtcpMode
	RtpMaxDelayMs      int32
	RtpPayloadType     int32
	UseExternalDecoder bool
	Frequency          int32
	Channels           int32
	Codec              string

	// DecoderFasterThanMaxFrameRate drives the slow-down-ACK policy
	// (spec.md §4.3); video streams typically set this false.
	DecoderFasterThanMaxFrameRate bool
	MaxUnackedFrames              int

	AesKey    []byte
	AesIVMask []byte

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Validate checks ReceiverConfig, mirroring SenderConfig.Validate.
func (c *ReceiverConfig) Validate() error {
	if c.IncomingSSRC == 0 {
		return errors.New("castcore: ReceiverConfig.IncomingSSRC must be set")
	}
	if len(c.AesKey) != 0 && len(c.AesKey) != 16 {
		return fmt.Errorf("castcore: AesKey must be 0 or 16 bytes, got %d", len(c.AesKey))
	}
	if len(c.AesIVMask) != 0 && len(c.AesIVMask) != 16 {
		return fmt.Errorf("castcore: AesIVMask must be 0 or 16 bytes, got %d", len(c.AesIVMask))
	}
	if (len(c.AesKey) == 0) != (len(c.AesIVMask) == 0) {
		return errors.New("castcore: AesKey and AesIVMask must both be set or both be empty")
	}
	if c.RtcpCName == "" {
		c.RtcpCName = uuid.NewString()
	}
	if c.RtcpIntervalMs == 0 {
		c.RtcpIntervalMs = 500
	}
	if c.RtpMaxDelayMs == 0 {
		c.RtpMaxDelayMs = int32(MaxAudioFrameWait / time.Millisecond)
	}
	if c.MaxUnackedFrames == 0 {
		c.MaxUnackedFrames = 3
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return nil
}
