// Package ocs holds what every part of the onchain-secrets client shares:
// the cryptographic suite and the error taxonomy.
//
// Writers publish documents to a ledger with their symmetric key encrypted
// under the ledger's shared public key. Readers that are authorised by the
// owner darc of a document add a read-request to the ledger and can then ask
// the servers to re-encrypt the symmetric key to their own public key. The
// ledger never sees the plaintext key.
//
// The packages are:
//   - darc: identities, distributed access rights controls and signatures
//   - darc/expression: the policy language used in darc rules
//   - resolver: validation of signature paths returned by the servers
//   - client: the protocol client driving write, read and decrypt
//   - service: the wire messages and an in-process reference ledger
//   - transport: how messages reach the servers
//   - skipchain: the blocks of the ledger and their links
//
// The ocsadmin command drives a client from the shell.
package ocs
