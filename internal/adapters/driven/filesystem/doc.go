// Package filesystem implements driven.FilesystemEnumerator by reading raw
// disk images directly.
//
// Partition tables (MBR with extended partitions, and GPT) are parsed to
// find volumes, and each volume's filesystem is identified from its boot
// sector or superblock. Ext2/3/4 volumes are walked from the root directory
// and then scanned for allocated inodes no directory reaches. NTFS volumes
// are read record by record from the $MFT; resident file data is mapped to
// the bytes inside its MFT record. Every allocated file is listed with the
// image byte ranges its data occupies. FAT and unknown filesystems are
// reported as unsupported; their offsets resolve to unallocated.
package filesystem
