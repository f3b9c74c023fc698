package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

// Message keys. English text doubles as the key so an unknown language
// still prints something readable.
const (
	MsgSaveSubmitted = "Settings submitted"
	MsgSaveDone      = "Settings saved"
	MsgDiscarded     = "Changes discarded"
	MsgOpenOK        = "Config folder opened"
	MsgOpenFailed    = "Could not open config folder: %s"
	MsgControlFailed = "Automation command refused: %s"
	MsgFuseSaved     = "Guard list submitted"
	MsgAutorunSaved  = "Automation config submitted"
)

var supported = []language.Tag{language.English, language.SimplifiedChinese, language.Japanese}

var matcher = language.NewMatcher(supported)

var messages = buildCatalog()

// Match picks the supported language closest to lang.
func Match(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	_, i, _ := matcher.Match(tag)
	return supported[i]
}

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, pairs ...string) {
		for i := 0; i+1 < len(pairs); i += 2 {
			_ = b.SetString(tag, pairs[i], pairs[i+1])
		}
	}
	set(language.English,
		MsgSaveSubmitted, MsgSaveSubmitted,
		MsgSaveDone, MsgSaveDone,
		MsgDiscarded, MsgDiscarded,
		MsgOpenOK, MsgOpenOK,
		MsgOpenFailed, MsgOpenFailed,
		MsgControlFailed, MsgControlFailed,
		MsgFuseSaved, MsgFuseSaved,
		MsgAutorunSaved, MsgAutorunSaved,
	)
	set(language.SimplifiedChinese,
		MsgSaveSubmitted, "已提交保存",
		MsgSaveDone, "设置已保存",
		MsgDiscarded, "已放弃修改",
		MsgOpenOK, "已打开配置目录",
		MsgOpenFailed, "打开配置目录失败：%s",
		MsgControlFailed, "自动化指令被拒绝：%s",
		MsgFuseSaved, "保险丝配置已提交",
		MsgAutorunSaved, "自动化配置已提交",
	)
	set(language.Japanese,
		MsgSaveSubmitted, "保存を送信しました",
		MsgSaveDone, "設定を保存しました",
		MsgDiscarded, "変更を破棄しました",
		MsgOpenOK, "設定フォルダを開きました",
		MsgOpenFailed, "設定フォルダを開けませんでした: %s",
		MsgControlFailed, "自動化コマンドが拒否されました: %s",
		MsgFuseSaved, "ガードリストを送信しました",
		MsgAutorunSaved, "自動化設定を送信しました",
	)
	return b
}
