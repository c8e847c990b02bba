package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SpaceInfo 存储空间统计
type SpaceInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// FreeSpace 报告数据目录所在文件系统的空间情况。
// 空间耗尽属于"上报、不自救"的故障类别：调用方只记录日志。
func (s *Store) FreeSpace() (SpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.dir, &st); err != nil {
		return SpaceInfo{}, fmt.Errorf("failed to stat filesystem %s: %w", s.dir, err)
	}
	return SpaceInfo{
		TotalBytes: uint64(st.Bsize) * st.Blocks,
		FreeBytes:  uint64(st.Bsize) * st.Bavail,
	}, nil
}
