/*
Package credentials issues and verifies the two credential paths of the
relayer protocol: long-lived organization API keys and per-cluster secrets.

Plaintext is generated from crypto/rand (32 random bytes), returned to the
caller exactly once at issuance and never stored; only a bcrypt hash
(cost 12) survives. API key lookup is prefix-indexed: the first 8 chars of
the key body shortlist candidates, each confirmed with a constant-time
hash compare. Both verify operations fail closed.
*/
package credentials
