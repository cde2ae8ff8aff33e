package utils

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	_longAddrHexLen  = 16
	_shortAddrHexLen = 4
)

// ParseLongAddr 解析64位地址, 支持 "0013A200.40A1B2C3", "0013A200 40A1B2C3", "0x0013A20040A1B2C3".
func ParseLongAddr(s string) (uint64, error) {
	raw := normalizeHex(s)
	if raw == "" || len(raw) > _longAddrHexLen {
		return 0, fmt.Errorf("addr:%s long address format invalid", s)
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("addr:%s long address format invalid: %w", s, err)
	}
	return v, nil
}

// ParseShortAddr 解析16位地址, 支持 "1234" 与 "0x1234".
func ParseShortAddr(s string) (uint16, error) {
	raw := normalizeHex(s)
	if raw == "" || len(raw) > _shortAddrHexLen {
		return 0, fmt.Errorf("addr:%s short address format invalid", s)
	}
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("addr:%s short address format invalid: %w", s, err)
	}
	return uint16(v), nil
}

// FormatLongAddr 返回 "0013A200.40A1B2C3" 形式的字符串.
func FormatLongAddr(addr uint64) string {
	var sb strings.Builder
	sb.Grow(_longAddrHexLen + 1)
	_, _ = fmt.Fprintf(&sb, "%08X", uint32(addr>>32))
	_, _ = sb.WriteString(".")
	_, _ = fmt.Fprintf(&sb, "%08X", uint32(addr))
	return sb.String()
}

// FormatShortAddr 返回 "0x1234" 形式的字符串.
func FormatShortAddr(addr uint16) string {
	return fmt.Sprintf("0x%04X", addr)
}

// SplitLongAddr 拆分高低32位, 对应无线模块 SH/SL 参数.
func SplitLongAddr(addr uint64) (hi uint32, lo uint32) {
	return uint32(addr >> 32), uint32(addr)
}

// JoinLongAddr 由 SH/SL 合成64位地址.
func JoinLongAddr(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	r := strings.NewReplacer(".", "", " ", "", ":", "", "-", "")
	return r.Replace(s)
}
