package store

import (
	"encoding/binary"

	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/proto"
)

// Row values carry a canonical fixed-width stat header followed by the
// variable sections:
//
//	statbuf (96 bytes) | state u32 | objname_len u32 | realpath_len u32 |
//	objname | '\0' | realpath | '\0' | payload
//
// The payload holds embedded file data for regular entries and the
// serialized GigaMapping for the zeroth-partition row of a directory.
const (
	statbufLen = 96
	headerLen  = statbufLen + 12
)

// statbuf field offsets.
const (
	offMode  = 0
	offUid   = 4
	offGid   = 8
	offSize  = 12
	offMtime = 20
	offCtime = 28
	offIno   = 36
	offNlink = 44
	offDev   = 48
)

const (
	modeDir = uint32(0o040000)
	modeReg = uint32(0o100000)
	modeFmt = uint32(0o170000)
)

func isDirMode(mode uint32) bool {
	return mode&modeFmt == modeDir
}

type entryValue struct {
	stat     proto.StatInfo
	nlink    uint32
	state    uint32
	objname  string
	realpath string
	payload  []byte
}

func (v *entryValue) encode() []byte {
	buf := make([]byte, headerLen+len(v.objname)+1+len(v.realpath)+1+len(v.payload))
	binary.LittleEndian.PutUint32(buf[offMode:], v.stat.Mode)
	binary.LittleEndian.PutUint32(buf[offUid:], v.stat.Uid)
	binary.LittleEndian.PutUint32(buf[offGid:], v.stat.Gid)
	binary.LittleEndian.PutUint64(buf[offSize:], uint64(v.stat.Size))
	binary.LittleEndian.PutUint64(buf[offMtime:], uint64(v.stat.Mtime))
	binary.LittleEndian.PutUint64(buf[offCtime:], uint64(v.stat.Ctime))
	binary.LittleEndian.PutUint64(buf[offIno:], v.stat.Id)
	binary.LittleEndian.PutUint32(buf[offNlink:], v.nlink)
	binary.LittleEndian.PutUint32(buf[offDev:], v.stat.ZerothServer)

	binary.LittleEndian.PutUint32(buf[statbufLen:], v.state)
	binary.LittleEndian.PutUint32(buf[statbufLen+4:], uint32(len(v.objname)))
	binary.LittleEndian.PutUint32(buf[statbufLen+8:], uint32(len(v.realpath)))

	off := headerLen
	off += copy(buf[off:], v.objname)
	off++ // '\0'
	off += copy(buf[off:], v.realpath)
	off++ // '\0'
	copy(buf[off:], v.payload)
	return buf
}

func decodeEntryValue(buf []byte) (*entryValue, error) {
	if len(buf) < headerLen {
		return nil, apierrors.ErrIOError
	}
	v := &entryValue{
		stat: proto.StatInfo{
			Mode:         binary.LittleEndian.Uint32(buf[offMode:]),
			Uid:          binary.LittleEndian.Uint32(buf[offUid:]),
			Gid:          binary.LittleEndian.Uint32(buf[offGid:]),
			Size:         int64(binary.LittleEndian.Uint64(buf[offSize:])),
			Mtime:        int64(binary.LittleEndian.Uint64(buf[offMtime:])),
			Ctime:        int64(binary.LittleEndian.Uint64(buf[offCtime:])),
			Id:           binary.LittleEndian.Uint64(buf[offIno:]),
			ZerothServer: binary.LittleEndian.Uint32(buf[offDev:]),
		},
		nlink: binary.LittleEndian.Uint32(buf[offNlink:]),
		state: binary.LittleEndian.Uint32(buf[statbufLen:]),
	}
	objnameLen := int(binary.LittleEndian.Uint32(buf[statbufLen+4:]))
	realpathLen := int(binary.LittleEndian.Uint32(buf[statbufLen+8:]))
	if len(buf) < headerLen+objnameLen+1+realpathLen+1 {
		return nil, apierrors.ErrIOError
	}
	off := headerLen
	v.objname = string(buf[off : off+objnameLen])
	off += objnameLen + 1
	v.realpath = string(buf[off : off+realpathLen])
	off += realpathLen + 1
	if off < len(buf) {
		v.payload = append([]byte(nil), buf[off:]...)
	}
	v.stat.IsEmbedded = v.state == proto.FileInDB
	return v, nil
}
