// Package services holds cross-cutting helpers shared by pipeline
// components: the error taxonomy used for failure classification and
// context annotation for correlating log records within a polling cycle.
package services
