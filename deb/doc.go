// Package deb builds and reads Debian binary packages.
//
// # Building
//
// A Package holds the control metadata, the maintainer scripts and the list
// of ArchiveEntry values to install. Builder.Build completes the entries with
// their missing parent directories, sorts them, writes data.tar through xz or
// gzip, computes md5sums and Installed-Size while streaming, and assembles
// the ar container:
//
//	debian-binary
//	control.tar.gz
//	data.tar.xz (or data.tar.gz)
//	_gpgorigin (when a Signer is set)
//
// Payloads estimated under InMemoryLimit are compressed in a single call;
// larger ones are streamed through a temporary file.
//
// # Reading
//
// Read parses the container and the control archive without touching the
// payload. OpenPayload returns the decompressed data.tar stream, which
// Contents, VerifyPayload and Extract consume. Stanza renders an APT
// Packages entry for the file.
//
// The xz codec is provided by the system liblzma, loaded at run time; see
// package lzma.
package deb
