package peer

var Fingerprint = fingerprint
