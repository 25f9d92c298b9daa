// Package file provides the TOML file implementation of driven.ConfigStore.
//
// The configuration file is a TOML document whose tables map to dotted
// keys: the value of batch_size under [index] is read as
// "index.batch_size". Locate decides which file a run uses.
package file
