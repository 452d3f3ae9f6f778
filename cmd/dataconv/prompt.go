package main

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

var errAborted = errors.New("init: aborted")

// prompter asks the init questions. Tests substitute a scripted one.
type prompter interface {
	Input(message, def string) (string, error)
	Select(message string, options []string, def string) (string, error)
	Confirm(message string, def bool) (bool, error)
}

type surveyPrompter struct {
	opts []survey.AskOpt
}

func (p surveyPrompter) Input(message, def string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &out,
		append(p.opts, survey.WithValidator(survey.Required))...)
	return out, translateSurveyErr(err)
}

func (p surveyPrompter) Select(message string, options []string, def string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Select{Message: message, Options: options, Default: def}, &out, p.opts...)
	return out, translateSurveyErr(err)
}

func (p surveyPrompter) Confirm(message string, def bool) (bool, error) {
	var out bool
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &out, p.opts...)
	return out, translateSurveyErr(err)
}

func translateSurveyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, terminal.InterruptErr) {
		return errAborted
	}
	return fmt.Errorf("prompt: %w", err)
}
