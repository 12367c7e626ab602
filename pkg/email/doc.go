// Package email sends transactional mail.
//
// EmailSender has two implementations: a Postmark client built on
// github.com/mrz1836/postmark for staging and production, and DevSender, which saves
// each message to disk so local runs never reach real inboxes. Message parameters are
// validated with go-playground/validator before anything is sent.
package email
