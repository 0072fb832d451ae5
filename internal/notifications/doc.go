// Package notifications delivers workflow alerts through a chat webhook.
package notifications
