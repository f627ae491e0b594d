package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/scribeflow/cmd/server/internal/diarization"
	"github.com/houzhh15/scribeflow/cmd/server/internal/transcript"
)

// newMergeCmd labels an existing transcript with speakers from a
// diarization file, without calling any capability.
func newMergeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "merge",
		Short:   "合并已有转写片段与说话人分离结果",
		Example: "  scribeflow merge --segments-file meeting.srt --speaker-file diarization.json -f vtt",
		RunE: func(cmd *cobra.Command, args []string) error {
			segmentsFile := mustGetString(cmd, "segments-file")
			speakerFile := mustGetString(cmd, "speaker-file")
			format, _ := cmd.Flags().GetString("format")
			if !transcript.ValidFormat(format) {
				return fmt.Errorf("unsupported format %q (text, json, srt, vtt)", format)
			}

			segs, err := transcript.ParseFile(segmentsFile)
			if err != nil {
				return fmt.Errorf("read segments: %w", err)
			}
			turns, err := diarization.ReadTurnsFile(speakerFile)
			if err != nil {
				return fmt.Errorf("read speakers: %w", err)
			}

			segs = diarization.AssignSpeakers(segs, turns, diarization.NewSpeakerNamer())
			if keep, _ := cmd.Flags().GetBool("keep-segments"); !keep {
				segs = diarization.MergeConsecutiveSpeakerSegments(segs)
			}
			return transcript.Write(cmd.OutOrStdout(), format, transcript.Transcription{
				Text:     diarization.FormatTranscriptWithSpeakers(segs),
				Segments: segs,
			})
		},
	}
	c.Flags().String("segments-file", "", "转写片段文件 (json/ndjson/srt/vtt)")
	c.Flags().String("speaker-file", "", "说话人分离 JSON 文件")
	c.Flags().StringP("format", "f", transcript.FormatText, "输出格式: text, json, srt, vtt")
	c.Flags().Bool("keep-segments", false, "不合并同一说话人的相邻片段")
	_ = c.MarkFlagRequired("segments-file")
	_ = c.MarkFlagRequired("speaker-file")
	return c
}
