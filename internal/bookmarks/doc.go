// Package bookmarks persists named remote-storage configurations and their
// mount/sync slot records in an INI file shared with the daemon. The file
// records desired intent only; live mount and job status is owned by the
// orchestrators.
package bookmarks
