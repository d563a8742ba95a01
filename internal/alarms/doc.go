// Package alarms evaluates threshold rules against committed PV records and
// delivers notifications to Slack, Teams or generic HTTP webhooks when a rule
// fires or resolves.
package alarms
