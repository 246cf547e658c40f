package entity

import "errors"

var (
	ErrWrongPacketLength = errors.New("wrong packet length")
	ErrWrongPacketData   = errors.New("wrong packet data")
	ErrBadIPAddress      = errors.New("bad IPv4 address")
	ErrBadMagic          = errors.New("bad capture magic")
	ErrPacketTooLarge    = errors.New("packet exceeds snap length")
	ErrUnknownApp        = errors.New("unknown application label")
	ErrEngineRunning     = errors.New("engine already running")
)
