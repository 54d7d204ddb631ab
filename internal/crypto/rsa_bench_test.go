package crypto

import (
	"bytes"
	"testing"
)

// BenchmarkRSAEncrypt: шифрование LogOnParams на клиенте, один раз на логин
func BenchmarkRSAEncrypt(b *testing.B) {
	b.ReportAllocs()
	pub := testKey.Public()
	plain := bytes.Repeat([]byte{0x42}, 64) // типичный размер параметров

	b.ResetTimer()
	for range b.N {
		if _, err := pub.Encrypt(plain); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRSADecrypt: LoginApp на каждом запросе login
func BenchmarkRSADecrypt(b *testing.B) {
	b.ReportAllocs()
	c, err := testKey.Public().Encrypt(bytes.Repeat([]byte{0x42}, 64))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for range b.N {
		if _, err := testKey.Decrypt(c); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGeneratePrivateKey: генерация ключа при первом старте dev-сервера
func BenchmarkGeneratePrivateKey(b *testing.B) {
	b.ReportAllocs()

	for range b.N {
		if _, err := GeneratePrivateKey(1024); err != nil {
			b.Fatal(err)
		}
	}
}
