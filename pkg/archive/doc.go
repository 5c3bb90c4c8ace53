// Package archive packs the working tree and ships it to the target.
//
// The tree is streamed as a gzipped tarball straight into an SFTP upload,
// so nothing is staged on local disk. Build artifacts, VCS metadata, and
// dependency caches are excluded; the remote side unpacks with plain tar.
package archive
