// Package plugin holds the tenant-scoped plugin data model and the stores
// that persist it.
//
// An Instance records, for one organization and one plugin, whether the
// plugin is enabled and running, its configuration (secret fields stored as
// vault ciphertext) and its typed AuthState. The Registry is the single
// source of truth for credentials: every write goes through Update, which
// hands the mutator a freshly read copy so concurrent writers never clobber
// each other.
//
// Manifests describe plugins independently of any organization: transport,
// endpoint, configuration schema and OAuth provider endpoints. The Catalog
// loads them from a directory and reloads on change.
package plugin
