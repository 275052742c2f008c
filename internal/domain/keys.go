package domain

// KeyPrefix namespaces every key the service writes to the backing store.
const KeyPrefix = "issuepilot:"
