// Package mysql provides the MySQL connection helper, embedded schema
// migrations, and the repository that records every agent published to the
// Zynd registry. A JSON-lines file backed repository is available for local
// runs without a database.
package mysql
