package wire

import "github.com/marmos91/authproxy/pkg/vfs"

func IdentityFrom(id vfs.Identity) Identity {
	return Identity{Protocol: id.Protocol, Name: id.Name, Host: id.Host, Tident: id.Tident}
}

func (id Identity) VFS() vfs.Identity {
	return vfs.Identity{Protocol: id.Protocol, Name: id.Name, Host: id.Host, Tident: id.Tident}
}

func StatFrom(st vfs.StatInfo) Stat {
	return Stat(st)
}

func (st Stat) VFS() vfs.StatInfo {
	return vfs.StatInfo(st)
}

// EncodeStat encodes a stat structure as a response payload.
func EncodeStat(st vfs.StatInfo) ([]byte, error) {
	s := StatFrom(st)
	return EncodeArgs(&s)
}

// DecodeStat decodes a STAT payload.
func DecodeStat(data []byte) (vfs.StatInfo, error) {
	var st Stat
	if err := DecodeArgs(data, &st); err != nil {
		return vfs.StatInfo{}, err
	}
	return st.VFS(), nil
}

// modePayload wraps a mode so it travels as a one-field XDR struct.
type modePayload struct {
	Mode uint32
}

// EncodeMode encodes a STAT_MODE payload.
func EncodeMode(mode uint32) ([]byte, error) {
	return EncodeArgs(&modePayload{Mode: mode})
}

// DecodeMode decodes a STAT_MODE payload.
func DecodeMode(data []byte) (uint32, error) {
	var p modePayload
	if err := DecodeArgs(data, &p); err != nil {
		return 0, err
	}
	return p.Mode, nil
}
