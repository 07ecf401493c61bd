/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggingTestSuite struct {
	suite.Suite
	saved int
}

func (s *LoggingTestSuite) SetupTest() {
	s.saved = Level()
}

func (s *LoggingTestSuite) TearDownTest() {
	SetLevel(s.saved)
}

func (s *LoggingTestSuite) TestLogColor() {
	SetLevel(LevelTrace)
	var out bytes.Buffer
	l := New("test", &out)

	l.Tracef("this is tracef %s", "hello world")
	l.Debugf("this is debugf %s", "hello world")
	l.Infof("this is infof %s", "hello world")
	l.Warnf("this is warnf %s", "hello world")
	l.Errorf("this is errorf %s", "hello world")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	s.Require().Len(lines, 5)
	for i, name := range levelName {
		s.Require().True(strings.HasPrefix(lines[i], colors[i]+name))
		s.Require().Contains(lines[i], "logging_test.go:")
		s.Require().Contains(lines[i], " test ")
	}
}

func (s *LoggingTestSuite) TestLevelFilters() {
	SetLevel(LevelWarn)
	var out bytes.Buffer
	l := New("filter", &out)

	l.Infof("dropped")
	l.Debugf("dropped")
	s.Require().Zero(out.Len())

	l.Warnf("kept")
	s.Require().Contains(out.String(), "kept")
}

func (s *LoggingTestSuite) TestSetLevelRejectsOutOfRange() {
	SetLevel(LevelError)
	SetLevel(LevelNoPrint + 1)
	s.Require().Equal(LevelError, Level())
	SetLevel(-1)
	s.Require().Equal(LevelError, Level())
}

func (s *LoggingTestSuite) TestDebugModeToggle() {
	saved := DebugMode()
	defer SetDebugMode(saved)

	SetDebugMode(true)
	s.Require().True(DebugMode())
	SetDebugMode(false)
	s.Require().False(DebugMode())
}

func TestLoggingTestSuite(t *testing.T) {
	suite.Run(t, new(LoggingTestSuite))
}
